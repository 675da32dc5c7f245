package schema

// Logical keys used by the game
const (
	KeyGameStats     = "gameStats"
	KeySettings      = "settings"
	KeyHighScores    = "highScores"
	KeyAchievements  = "achievements"
	KeyPlayerProfile = "playerProfile"
	KeyDataVersion   = "dataVersion"
)

// DefaultDefinitions returns the record definitions for the game keys
func DefaultDefinitions() []RecordDefinition {
	return []RecordDefinition{
		{
			Key:  KeyGameStats,
			Kind: KindObject,
			Fields: []FieldRule{
				{Name: "gamesPlayed", Kind: KindNumber, Required: true},
				{Name: "gamesWon", Kind: KindNumber},
				{Name: "totalScore", Kind: KindNumber},
				{Name: "bestStreak", Kind: KindNumber},
			},
		},
		{
			Key:  KeySettings,
			Kind: KindObject,
			Fields: []FieldRule{
				{Name: "soundEnabled", Kind: KindBoolean},
				{Name: "volume", Kind: KindNumber},
				{Name: "difficulty", Kind: KindString},
			},
		},
		{Key: KeyHighScores, Kind: KindArray},
		{Key: KeyAchievements, Kind: KindArray},
		{
			Key:  KeyPlayerProfile,
			Kind: KindObject,
			Fields: []FieldRule{
				{Name: "name", Kind: KindString, Required: true},
			},
		},
		{Key: KeyDataVersion, Kind: KindString},
	}
}

// DefaultRegistry returns a registry populated with DefaultDefinitions
func DefaultRegistry() *Registry {
	return NewRegistry(DefaultDefinitions()...)
}
