package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	auditdomain "github.com/sadaqahq/amanah/internal/audit/domain"
	"github.com/sadaqahq/amanah/internal/audit/repository"
	"github.com/sadaqahq/amanah/internal/clock"
	"github.com/sadaqahq/amanah/internal/identity"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	assert.NoError(t, err)

	db.Exec(`CREATE TABLE IF NOT EXISTS audit_logs (
		id BIGINT PRIMARY KEY,
		actor_type TEXT NOT NULL,
		actor_id TEXT,
		action TEXT NOT NULL,
		target_type TEXT NOT NULL,
		target_id TEXT,
		metadata TEXT,
		ip_address TEXT,
		user_agent TEXT,
		created_at TIMESTAMP NOT NULL
	)`)

	return db
}

func newTestService(t *testing.T, db *gorm.DB, clk clock.Clock) auditdomain.Service {
	t.Helper()
	node, err := snowflake.NewNode(1)
	assert.NoError(t, err)

	return NewService(Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: clk,
		Repo:  repository.Provide(),
	})
}

func TestAuditLogStampsInjectedClock(t *testing.T) {
	db := openTestDB(t)
	want := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	svc := newTestService(t, db, clock.NewFakeClock(want))

	ctx := identity.WithActor(context.Background(), identity.ActorTypeAdmin, "adm_1")
	targetID := "4242"
	err := svc.AuditLog(ctx, "subscription.pause", "subscription", &targetID, map[string]any{
		"reason": "fraud review",
	})
	assert.NoError(t, err)

	resp, err := svc.List(ctx, auditdomain.ListAuditLogRequest{})
	assert.NoError(t, err)
	assert.Len(t, resp.AuditLogs, 1)

	entry := resp.AuditLogs[0]
	assert.True(t, entry.CreatedAt.Equal(want), "created_at %s, want %s", entry.CreatedAt, want)
	assert.Equal(t, "admin", entry.ActorType)
	assert.Equal(t, "subscription.pause", entry.Action)
}

func TestAuditLogRejectsEmptyAction(t *testing.T) {
	db := openTestDB(t)
	svc := newTestService(t, db, clock.NewFakeClock(time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)))

	err := svc.AuditLog(context.Background(), "   ", "subscription", nil, nil)
	assert.ErrorIs(t, err, auditdomain.ErrInvalidAction)
}
