// Package schema holds the per-key record definitions used to validate values
// before they are written to, or after they are read from, a keepsake store.
//
// A Registry maps a logical key (for example "gameStats") to a RecordDefinition
// describing the expected top-level kind of the value and, for objects, the
// kind of individual fields. Checks are shallow: only the first level of an
// object is inspected. Fields that are not described are allowed.
//
//	reg := schema.DefaultRegistry()
//	err := reg.Validate("gameStats", map[string]any{"gamesPlayed": "bad"})
//	var verr *schema.ValidationError
//	if errors.As(err, &verr) {
//		fmt.Println(verr.Field, verr.Reason)
//	}
//
// Keys without a definition always validate.
package schema
