//go:build integration

package infra_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/amineprimesmr/myfidpass/internal/infra"
	"github.com/amineprimesmr/myfidpass/internal/loyalty"
	"github.com/amineprimesmr/myfidpass/internal/registration"
	"github.com/amineprimesmr/myfidpass/internal/tenant"
)

const (
	testUser     = "myfidpass"
	testPassword = "myfidpass"
)

type PostgresSuite struct {
	suite.Suite
	container testcontainers.Container
	pool      *pgxpool.Pool

	tenants  *tenant.PostgresRepository
	accounts *loyalty.PostgresRepository
	regs     *registration.PostgresRepository
}

func TestPostgresSuite(t *testing.T) {
	suite.Run(t, new(PostgresSuite))
}

func dsn(host string, port nat.Port) string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/postgres?sslmode=disable", testUser, testPassword, host, port.Port())
}

func (s *PostgresSuite) SetupSuite() {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:17",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     testUser,
				"POSTGRES_PASSWORD": testPassword,
				"POSTGRES_DB":       "postgres",
			},
			Cmd:        []string{"postgres", "-c", "fsync=off", "-c", "synchronous_commit=off"},
			WaitingFor: wait.ForSQL("5432/tcp", "pgx", dsn).WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	s.Require().NoError(err, "start postgres container")
	s.container = container

	host, err := container.Host(ctx)
	s.Require().NoError(err)
	port, err := container.MappedPort(ctx, nat.Port("5432/tcp"))
	s.Require().NoError(err)

	s.pool, err = infra.NewPostgresPool(ctx, dsn(host, port))
	s.Require().NoError(err)
	s.Require().NoError(infra.MigratePostgres(ctx, s.pool))
	// Applying the schema twice must be harmless.
	s.Require().NoError(infra.MigratePostgres(ctx, s.pool))

	s.tenants = tenant.NewPostgresRepository(s.pool)
	s.accounts = loyalty.NewPostgresRepository(s.pool)
	s.regs = registration.NewPostgresRepository(s.pool)
}

func (s *PostgresSuite) TearDownSuite() {
	if s.pool != nil {
		s.pool.Close()
	}
	if s.container != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = s.container.Terminate(ctx)
	}
}

func (s *PostgresSuite) SetupTest() {
	_, err := s.pool.Exec(context.Background(), "TRUNCATE tenants CASCADE")
	s.Require().NoError(err)
}

func (s *PostgresSuite) seedAccount(serial string, at time.Time) {
	ctx := context.Background()
	if _, err := s.tenants.Get(ctx, "t1"); err != nil {
		s.Require().NoError(s.tenants.Create(ctx, tenant.Tenant{ID: "t1", Name: "Cafe", Program: tenant.ProgramPoints, APIKeyHash: []byte("x"), CreatedAt: at}))
	}
	s.Require().NoError(s.accounts.Create(ctx, loyalty.Account{Serial: serial, TenantID: "t1", Name: serial, LastActivityAt: at, CreatedAt: at}))
}

func (s *PostgresSuite) TestCreditIsIdempotentPerClientTx() {
	ctx := context.Background()
	t0 := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	s.seedAccount("S1", t0)

	a, err := s.accounts.Credit(ctx, loyalty.Posting{Serial: "S1", ClientTxID: "tx", Amount: 7, At: t0.Add(time.Second)})
	s.Require().NoError(err)
	s.Equal(int64(7), a.Balance)

	a, err = s.accounts.Credit(ctx, loyalty.Posting{Serial: "S1", ClientTxID: "tx", Amount: 7, At: t0.Add(2 * time.Second)})
	s.Require().ErrorIs(err, loyalty.ErrDuplicatePosting)
	s.Equal(int64(7), a.Balance)
	s.True(a.LastActivityAt.Equal(t0.Add(time.Second)), "duplicate must not bump activity")

	_, err = s.accounts.Credit(ctx, loyalty.Posting{Serial: "missing", ClientTxID: "tx", Amount: 1, At: t0})
	s.Require().ErrorIs(err, loyalty.ErrNotFound)
}

func (s *PostgresSuite) TestTouchNeverMovesBackward() {
	ctx := context.Background()
	t0 := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	s.seedAccount("S1", t0)
	s.seedAccount("S2", t0)

	s.Require().NoError(s.accounts.Touch(ctx, []string{"S1"}, t0.Add(time.Minute)))
	s.Require().NoError(s.accounts.Touch(ctx, []string{"S1"}, t0.Add(time.Second)))

	a, err := s.accounts.Get(ctx, "S1")
	s.Require().NoError(err)
	s.True(a.LastActivityAt.Equal(t0.Add(time.Minute)))

	updated, err := s.accounts.ListUpdatedSince(ctx, []string{"S1", "S2"}, t0)
	s.Require().NoError(err)
	s.Equal([]string{"S1"}, updated)
}

func (s *PostgresSuite) TestRegistrationUpsertKeepsOneRow() {
	ctx := context.Background()
	t0 := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	s.seedAccount("S1", t0)

	reg := registration.Registration{DeviceID: "D1", PassTypeID: "pass.x", Serial: "S1", PushToken: "a", UpdatedAt: t0}
	created, err := s.regs.Upsert(ctx, reg)
	s.Require().NoError(err)
	s.True(created)

	reg.PushToken = "b"
	reg.UpdatedAt = t0.Add(time.Second)
	created, err = s.regs.Upsert(ctx, reg)
	s.Require().NoError(err)
	s.False(created)

	regs, err := s.regs.ListForSerials(ctx, []string{"S1"})
	s.Require().NoError(err)
	s.Require().Len(regs, 1)
	s.Equal("b", regs[0].PushToken)
	s.Equal(registration.TransportAPNs, regs[0].Transport)

	serials, err := s.regs.ListForDevice(ctx, "D1", "pass.x")
	s.Require().NoError(err)
	s.Equal([]string{"S1"}, serials)

	s.Require().NoError(s.regs.Delete(ctx, reg.Key()))
	s.Require().NoError(s.regs.Delete(ctx, reg.Key()))
}

func (s *PostgresSuite) TestDeleteByTenantCascades() {
	ctx := context.Background()
	t0 := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	s.seedAccount("S1", t0)
	_, err := s.regs.Upsert(ctx, registration.Registration{DeviceID: "D1", PassTypeID: "pass.x", Serial: "S1", UpdatedAt: t0})
	s.Require().NoError(err)

	n, err := s.accounts.DeleteByTenant(ctx, "t1")
	s.Require().NoError(err)
	s.Equal(int64(1), n)

	regs, err := s.regs.ListForSerials(ctx, []string{"S1"})
	require.NoError(s.T(), err)
	s.Empty(regs)
}
