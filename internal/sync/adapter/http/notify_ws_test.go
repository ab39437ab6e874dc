package http

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ahmadnk31/gsm-sync/internal/sync/adapter/feed"
	"github.com/ahmadnk31/gsm-sync/internal/sync/domain/model"
	"github.com/ahmadnk31/gsm-sync/internal/sync/usecase"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const notifyTestSecret = "notify-test-secret"

func newNotifyTestApp(t *testing.T) *fiber.App {
	t.Helper()

	session := usecase.NewSyncSession(
		model.ViewScope{Role: model.RoleStandard, ViewerID: "u1"},
		&stubFeed{subs: make(map[model.EntityKind]*stubSubscription)},
		&stubStore{}, nil, nil, usecase.DefaultSessionConfig(), stubLogger{})
	require.NoError(t, session.Start(context.Background()))
	t.Cleanup(session.Stop)

	app := fiber.New()
	NewNotificationHub(session, notifyTestSecret, stubLogger{}).RegisterRoutes(app)
	return app
}

func TestNotifyRequiresWebSocketUpgrade(t *testing.T) {
	app := newNotifyTestApp(t)

	req := httptest.NewRequest("GET", "/ws/notify", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUpgradeRequired, resp.StatusCode)
}

func TestNotifyRejectsMissingToken(t *testing.T) {
	app := newNotifyTestApp(t)

	req := httptest.NewRequest("GET", "/ws/notify", nil)
	req.Header.Set("Connection", "Upgrade")
	req.Header.Set("Upgrade", "websocket")
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
}

func TestNotifyRejectsTokenSignedWithAnotherSecret(t *testing.T) {
	app := newNotifyTestApp(t)

	token, err := feed.MintFeedToken("some-other-secret",
		model.ViewScope{Role: model.RoleStandard, ViewerID: "u1"}, time.Minute)
	require.NoError(t, err)

	req := httptest.NewRequest("GET", "/ws/notify?token="+token, nil)
	req.Header.Set("Connection", "Upgrade")
	req.Header.Set("Upgrade", "websocket")
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
}

func TestNotifyRejectsTokenForAnotherViewer(t *testing.T) {
	app := newNotifyTestApp(t)

	token, err := feed.MintFeedToken(notifyTestSecret,
		model.ViewScope{Role: model.RoleAdmin, ViewerID: "admin-1"}, time.Minute)
	require.NoError(t, err)

	req := httptest.NewRequest("GET", "/ws/notify?token="+token, nil)
	req.Header.Set("Connection", "Upgrade")
	req.Header.Set("Upgrade", "websocket")
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusForbidden, resp.StatusCode)
}
