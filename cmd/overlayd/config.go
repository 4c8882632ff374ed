package main

import (
	configlibsql "daftie-backend/lib/configutil/libsql"
	"daftie-backend/services/pricewatch"
)

type Config struct {
	Database configlibsql.Struct `json:"database"`
	Port     int                 `json:"port"`
	// user agent echoed on outbound listing and pagination fetches
	UserAgent string `json:"userAgent"`
	// origin-site endpoint for best-effort note mirroring; empty
	// disables it
	NoteSyncUrl string `json:"noteSyncUrl"`

	Smtp           pricewatch.SmtpConfig `json:"smtp"`
	AlertRecipient string                `json:"alertRecipient"`
}
