package config

import "dario.cat/mergo"

// Override holds a partial Config: any zero-valued field is left
// untouched by Merge. This lets a caller express "use the defaults
// except raise COLD's bounds" without restating every field.
type Override struct {
	WorkingMemoryDefault int
	WorkingMemoryMax     int
	HandoffWarnPct       int
	HandoffCriticalPct   int
	CoolMaxItems         int
	CoolMaxTokens        int
	ColdMaxItems         int
	ColdMaxTokens        int
}

// MergeOverride layers a partial Override on top of base, returning a
// new Config. Zero fields in override do not clobber base's values.
func MergeOverride(base Config, override Override) (Config, error) {
	merged := base
	if err := mergo.Merge(&merged, Config{
		WorkingMemoryDefault: override.WorkingMemoryDefault,
		WorkingMemoryMax:     override.WorkingMemoryMax,
		HandoffWarnPct:       override.HandoffWarnPct,
		HandoffCriticalPct:   override.HandoffCriticalPct,
		CoolMaxItems:         override.CoolMaxItems,
		CoolMaxTokens:        override.CoolMaxTokens,
		ColdMaxItems:         override.ColdMaxItems,
		ColdMaxTokens:        override.ColdMaxTokens,
	}, mergo.WithOverride); err != nil {
		return Config{}, err
	}
	return merged, nil
}
