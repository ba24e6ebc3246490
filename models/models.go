package models

// Tables lists the models owned by this service in dependency order, for AutoMigrate
func Tables() []any {
	return []any{
		&Channel{},
		&Contact{},
		&Campaign{},
		&CampaignGroup{},
		&MessageTemplate{},
		&MassMessageBatch{},
		&MassMessageRecipient{},
		&ScheduledMessage{},
		&AuditLog{},
	}
}
