package benefits

// CardholderUpdate is a partial update sent to the ledger in a single call.
// An empty metadata value unsets the key.
type CardholderUpdate struct {
	Email               *string
	Metadata            map[string]string
	SpendingLimit       *SpendingLimit
	ClearSpendingLimits bool
}

// IsEmpty reports whether the update would change nothing.
func (update CardholderUpdate) IsEmpty() bool {
	return update.Email == nil && len(update.Metadata) == 0 && update.SpendingLimit == nil && !update.ClearSpendingLimits
}

// SetMetadata records a metadata change.
func (update *CardholderUpdate) SetMetadata(key string, value string) {
	if update.Metadata == nil {
		update.Metadata = map[string]string{}
	}
	update.Metadata[key] = value
}

// Merge folds other into update; fields set on other win.
func (update CardholderUpdate) Merge(other CardholderUpdate) CardholderUpdate {
	merged := CardholderUpdate{
		Email:               update.Email,
		SpendingLimit:       update.SpendingLimit,
		ClearSpendingLimits: update.ClearSpendingLimits || other.ClearSpendingLimits,
	}
	if other.Email != nil {
		merged.Email = other.Email
	}
	if other.SpendingLimit != nil {
		merged.SpendingLimit = other.SpendingLimit
	}
	for key, value := range update.Metadata {
		merged.SetMetadata(key, value)
	}
	for key, value := range other.Metadata {
		merged.SetMetadata(key, value)
	}
	return merged
}

// Apply returns a copy of cardholder with update applied, as the ledger would store it.
func (cardholder Cardholder) Apply(update CardholderUpdate) Cardholder {
	updated := cardholder
	if update.Email != nil {
		updated.Email = *update.Email
	}
	updated.Metadata = make(map[string]string, len(cardholder.Metadata)+len(update.Metadata))
	for key, value := range cardholder.Metadata {
		updated.Metadata[key] = value
	}
	for key, value := range update.Metadata {
		if value == "" {
			delete(updated.Metadata, key)
			continue
		}
		updated.Metadata[key] = value
	}
	switch {
	case update.SpendingLimit != nil:
		updated.SpendingControls = SpendingControls{SpendingLimits: []SpendingLimit{*update.SpendingLimit}}
	case update.ClearSpendingLimits:
		updated.SpendingControls = SpendingControls{}
	default:
		limits := make([]SpendingLimit, len(cardholder.SpendingControls.SpendingLimits))
		copy(limits, cardholder.SpendingControls.SpendingLimits)
		updated.SpendingControls = SpendingControls{SpendingLimits: limits}
	}
	return updated
}
