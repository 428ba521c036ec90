package gateway

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"time"

	"github.com/mzhadan/chatforge/internal/template"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
}

func signPayload(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// fakeStore serves canned templates for admin API tests.
type fakeStore struct {
	templates map[int64][]template.Template
}

func (s *fakeStore) Upsert(int64, template.Template, string) error { return nil }

func (s *fakeStore) Get(ownerID int64, name string) (template.Template, error) {
	for _, tpl := range s.templates[ownerID] {
		if tpl.Name == name {
			return tpl, nil
		}
	}
	return template.Template{}, nil
}

func (s *fakeStore) GetAll(ownerID int64) []template.Template {
	return s.templates[ownerID]
}

func (s *fakeStore) Delete(int64, string) bool { return false }

func sampleTemplate(owner int64, name string) template.Template {
	return template.Template{
		OwnerID:   owner,
		Name:      name,
		ChatTitle: "Team Space",
		Topics: []template.Topic{
			{Title: "General"},
			{Title: "Announcements", Icon: "📣"},
		},
		CreatedAt: time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC),
	}
}
