package provider

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"

	"github.com/kcalvelli/axios-ai-mail-sub000/pkg/apperr"
)

const smtpSendRetries = 3

type smtpConfig struct {
	Host     string
	Port     int
	Security string
	Username string
	Password string
}

func (c smtpConfig) addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// sendSMTP submits a raw message, retrying transport failures with backoff.
// Authentication rejections abort immediately since retrying cannot fix them.
func sendSMTP(ctx context.Context, cfg smtpConfig, from string, to []string, raw []byte) error {
	if len(to) == 0 {
		return apperr.InvalidInput("recipients", "message has no recipients")
	}

	var lastErr error
	for attempt := 0; attempt <= smtpSendRetries; attempt++ {
		if attempt > 0 {
			delay := time.Second << (attempt - 1)
			select {
			case <-ctx.Done():
				return apperr.Timeout("smtp send", ctx.Err())
			case <-time.After(delay):
			}
		}

		err := smtpDeliver(cfg, from, to, raw)
		if err == nil {
			return nil
		}
		if apperr.IsKind(err, apperr.KindAuthentication) {
			return err
		}
		lastErr = err
	}
	return apperr.Connection(cfg.addr(), lastErr)
}

func smtpDeliver(cfg smtpConfig, from string, to []string, raw []byte) error {
	client, err := smtpDial(cfg)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer client.Close()

	if cfg.Password != "" {
		if err := client.Auth(sasl.NewPlainClient("", cfg.Username, cfg.Password)); err != nil {
			return apperr.AuthRejected("smtp", err)
		}
	}
	if err := client.SendMail(from, to, bytes.NewReader(raw)); err != nil {
		return fmt.Errorf("send: %w", err)
	}
	return nil
}

func smtpDial(cfg smtpConfig) (*smtp.Client, error) {
	tlsCfg := &tls.Config{ServerName: cfg.Host}
	switch {
	case cfg.Security == securityTLS || cfg.Port == 465:
		return smtp.DialTLS(cfg.addr(), tlsCfg)
	case cfg.Security == securityNone:
		return smtp.Dial(cfg.addr())
	default:
		return smtp.DialStartTLS(cfg.addr(), tlsCfg)
	}
}
