package analytics

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"
	postgresdriver "gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func newTestPostgres(t *testing.T) (*gorm.DB, func()) {
	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	require.NoError(t, err, "failed to start postgres container")

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := gorm.Open(postgresdriver.Open(connStr), &gorm.Config{})
	require.NoError(t, err)

	return db, func() {
		_ = container.Terminate(ctx)
	}
}

func TestGormSink_RecordRequest(t *testing.T) {
	if testing.Short() {
		t.Skip("requires docker")
	}
	db, cleanup := newTestPostgres(t)
	defer cleanup()

	sink, err := NewGormSink(db)
	require.NoError(t, err)

	err = sink.RecordRequest(context.Background(), TelemetryEvent{
		TenantID:     "tenant-1",
		CredentialID: "cred-1",
		Provider:     "openai",
		Model:        "gpt-4o",
		StatusCode:   200,
		Success:      true,
		InputTokens:  10,
		OutputTokens: 20,
		TotalCost:    0.002,
		Metadata:     map[string]any{"retries": 2},
	})
	require.NoError(t, err)

	var count int64
	db.Model(&requestEventRow{}).Count(&count)
	assert.EqualValues(t, 1, count)
}

func TestNoopSink_NeverErrors(t *testing.T) {
	sink := NewNoopSink(zap.NewNop())
	err := sink.RecordRequest(context.Background(), TelemetryEvent{TenantID: "t1"})
	assert.NoError(t, err)
}

func TestMarshalMetadata_EmptyYieldsEmptyObject(t *testing.T) {
	j, err := marshalMetadata(nil)
	require.NoError(t, err)
	assert.Equal(t, "{}", string(j))
}
