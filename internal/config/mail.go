package config

import "time"

// MailConfig selects and configures the magic-link sender.  Driver "smtp"
// delivers through an SMTP relay; "log" only writes the link to the log and
// is meant for local development.
type MailConfig struct {
	Driver   string
	Host     string
	Port     int
	Username string
	Password string
	From     string
	Subject  string
	Timeout  time.Duration // per delivery
}

func LoadMailConfig() MailConfig {
	return MailConfig{
		Driver:   envStr("MAIL_DRIVER", "log"),
		Host:     envStr("MAIL_HOST", "localhost"),
		Port:     envInt("MAIL_PORT", 587),
		Username: envStr("MAIL_USER", ""),
		Password: envStr("MAIL_PASS", ""),
		From:     envStr("MAIL_FROM", "no-reply@localhost"),
		Subject:  envStr("MAIL_MAGIC_LINK_SUBJECT", "Your sign-in link"),
		Timeout:  envDur("MAIL_TIMEOUT", 30*time.Second),
	}
}
