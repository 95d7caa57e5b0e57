/*
scenarios_test.go - Scenario loaders against every local store

These double as integration tests: the same scenario goes through the
memory and sqlite stores and must produce the same state.
*/
package api

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/enrollment-engine/enrollment"
	"github.com/warp/enrollment-engine/enrollment/store"
	"github.com/warp/enrollment-engine/store/sqlite"
)

func seeders(t *testing.T) map[string]Seeder {
	db, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return map[string]Seeder{
		"memory": store.NewMemory(),
		"sqlite": db,
	}
}

func TestScenario_DragonDojo(t *testing.T) {
	for name, s := range seeders(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			// Loading twice is the same as loading once
			require.NoError(t, LoadScenario(ctx, s, "dragon-dojo"))
			require.NoError(t, LoadScenario(ctx, s, "dragon-dojo"))

			ada, err := s.GetStudent(ctx, DojoAda)
			require.NoError(t, err)
			assert.Equal(t, []enrollment.ClassID{DojoWingChun}, ada.SelectedClasses)

			bruce, err := s.GetStudent(ctx, DojoBruce)
			require.NoError(t, err)
			assert.Equal(t, []enrollment.ClassID{DojoJKD}, bruce.EnrolledClasses)

			jkd, err := s.GetClass(ctx, DojoJKD)
			require.NoError(t, err)
			assert.Equal(t, 1, jkd.EnrolledStudents)

			lee, err := s.GetStudent(ctx, DojoLee)
			require.NoError(t, err)
			assert.Equal(t, 1, lee.NumberOfStudents)

			receipts, err := s.ListReceipts(ctx)
			require.NoError(t, err)
			assert.Len(t, receipts, 1)
		})
	}
}

func TestScenario_DriftedCounters_SweepRepairs(t *testing.T) {
	for name, s := range seeders(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, LoadScenario(ctx, s, "drifted-counters"))

			report, err := enrollment.NewReconciler(s).Sweep(ctx)
			require.NoError(t, err)

			assert.Equal(t, 2, report.ClassesRepaired)
			assert.Equal(t, 1, report.InstructorsRepaired)
			jkd, err := s.GetClass(ctx, DojoJKD)
			require.NoError(t, err)
			assert.Equal(t, 1, jkd.EnrolledStudents)
		})
	}
}

func TestScenario_Unknown(t *testing.T) {
	err := LoadScenario(context.Background(), store.NewMemory(), "kung-fu-panda")
	assert.ErrorIs(t, err, ErrUnknownScenario)
}
