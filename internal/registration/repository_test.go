package registration

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amineprimesmr/myfidpass/internal/infra"
	"github.com/amineprimesmr/myfidpass/internal/tenant"
)

const passType = "pass.com.myfidpass.loyalty"

func newSQLiteRepository(t *testing.T, serials ...string) Repository {
	t.Helper()
	ctx := context.Background()
	db, err := infra.NewSQLite(ctx, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	now := time.Now().UTC()
	require.NoError(t, tenant.NewSQLiteRepository(db).Create(ctx, tenant.Tenant{
		ID: "tenant-1", Name: "Cafe", Program: tenant.ProgramPoints, APIKeyHash: []byte("x"), CreatedAt: now,
	}))
	for _, serial := range serials {
		_, err := db.ExecContext(ctx, `INSERT INTO loyalty_accounts (serial, tenant_id, name, last_activity_at, created_at)
            VALUES (?, 'tenant-1', ?, ?, ?)`, serial, serial, now.UnixMicro(), now.UnixMicro())
		require.NoError(t, err)
	}
	return NewSQLiteRepository(db)
}

func backends(t *testing.T) map[string]Repository {
	return map[string]Repository{
		"memory": NewMemoryRepository(),
		"sqlite": newSQLiteRepository(t, "S1", "S2", "S3"),
	}
}

func TestUpsertOverwritesPushToken(t *testing.T) {
	for name, repo := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			t0 := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

			created, err := repo.Upsert(ctx, Registration{DeviceID: "D1", PassTypeID: passType, Serial: "S1", UpdatedAt: t0})
			require.NoError(t, err)
			require.True(t, created)

			created, err = repo.Upsert(ctx, Registration{DeviceID: "D1", PassTypeID: passType, Serial: "S1", PushToken: "tok-2", UpdatedAt: t0.Add(time.Second)})
			require.NoError(t, err)
			require.False(t, created)

			regs, err := repo.ListForSerials(ctx, []string{"S1"})
			require.NoError(t, err)
			require.Len(t, regs, 1)
			require.Equal(t, "tok-2", regs[0].PushToken)
			require.Equal(t, TransportAPNs, regs[0].Transport)
			require.True(t, regs[0].RegisteredAt.Equal(t0), "registered_at must survive re-registration")
		})
	}
}

func TestListForDeviceAndDelete(t *testing.T) {
	for name, repo := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			now := time.Now().UTC()

			for _, serial := range []string{"S2", "S1"} {
				_, err := repo.Upsert(ctx, Registration{DeviceID: "D1", PassTypeID: passType, Serial: serial, PushToken: "tok", UpdatedAt: now})
				require.NoError(t, err)
			}
			_, err := repo.Upsert(ctx, Registration{DeviceID: "D2", PassTypeID: passType, Serial: "S3", UpdatedAt: now})
			require.NoError(t, err)

			serials, err := repo.ListForDevice(ctx, "D1", passType)
			require.NoError(t, err)
			if diff := cmp.Diff([]string{"S1", "S2"}, serials); diff != "" {
				t.Fatalf("serials mismatch (-want +got):\n%s", diff)
			}

			serials, err = repo.ListForDevice(ctx, "D1", "pass.other")
			require.NoError(t, err)
			require.Empty(t, serials)

			require.NoError(t, repo.Delete(ctx, Key{DeviceID: "D1", PassTypeID: passType, Serial: "S1"}))
			require.NoError(t, repo.Delete(ctx, Key{DeviceID: "D1", PassTypeID: passType, Serial: "S1"}), "deleting twice is accepted")

			serials, err = repo.ListForDevice(ctx, "D1", passType)
			require.NoError(t, err)
			require.Equal(t, []string{"S2"}, serials)

			require.NoError(t, repo.DeleteForSerials(ctx, []string{"S2", "S3"}))
			regs, err := repo.ListForSerials(ctx, []string{"S1", "S2", "S3"})
			require.NoError(t, err)
			require.Empty(t, regs)
		})
	}
}

func TestConcurrentUpsertKeepsOneRow(t *testing.T) {
	for name, repo := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			base := time.Now().UTC()

			var wg sync.WaitGroup
			for i := 0; i < 16; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					_, err := repo.Upsert(ctx, Registration{
						DeviceID:   "D1",
						PassTypeID: passType,
						Serial:     "S1",
						PushToken:  fmt.Sprintf("tok-%d", i),
						UpdatedAt:  base.Add(time.Duration(i) * time.Millisecond),
					})
					assert.NoError(t, err)
				}(i)
			}
			wg.Wait()

			regs, err := repo.ListForSerials(ctx, []string{"S1"})
			require.NoError(t, err)
			require.Len(t, regs, 1)
		})
	}
}

func TestUpsertWithSameTimestampIsNotCreated(t *testing.T) {
	for name, repo := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			at := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
			reg := Registration{DeviceID: "D1", PassTypeID: passType, Serial: "S1", PushToken: "tok-1", UpdatedAt: at}

			created, err := repo.Upsert(ctx, reg)
			require.NoError(t, err)
			require.True(t, created)

			reg.PushToken = "tok-2"
			created, err = repo.Upsert(ctx, reg)
			require.NoError(t, err)
			assert.False(t, created, "re-registration within the same clock tick")

			regs, err := repo.ListForSerials(ctx, []string{"S1"})
			require.NoError(t, err)
			require.Len(t, regs, 1)
			assert.Equal(t, "tok-2", regs[0].PushToken)
		})
	}
}

func TestSQLiteSerialListsAreChunked(t *testing.T) {
	prev := maxInParams
	maxInParams = 2
	t.Cleanup(func() { maxInParams = prev })

	serials := []string{"S1", "S2", "S3", "S4", "S5"}
	repo := newSQLiteRepository(t, serials...)
	ctx := context.Background()
	now := time.Now().UTC()
	for _, serial := range serials {
		_, err := repo.Upsert(ctx, Registration{DeviceID: "D-" + serial, PassTypeID: passType, Serial: serial, UpdatedAt: now})
		require.NoError(t, err)
	}

	regs, err := repo.ListForSerials(ctx, []string{"S5", "S1", "S3", "S2", "S4"})
	require.NoError(t, err)
	got := make([]string, 0, len(regs))
	for _, reg := range regs {
		got = append(got, reg.Serial)
	}
	if diff := cmp.Diff(serials, got); diff != "" {
		t.Fatalf("serials mismatch (-want +got):\n%s", diff)
	}

	require.NoError(t, repo.DeleteForSerials(ctx, []string{"S1", "S2", "S3", "S4"}))
	regs, err = repo.ListForSerials(ctx, serials)
	require.NoError(t, err)
	require.Len(t, regs, 1)
	assert.Equal(t, "S5", regs[0].Serial)
}

func TestChunks(t *testing.T) {
	assert.Empty(t, chunks(nil, 3))
	assert.Equal(t, [][]string{{"a", "b"}, {"c"}}, chunks([]string{"a", "b", "c"}, 2))
	assert.Equal(t, [][]string{{"a", "b"}}, chunks([]string{"a", "b"}, 2))
}
