package schedule_test

import (
	"context"
	"testing"
	"time"

	"github.com/olekht/bustix-go/internal/domain"
	"github.com/olekht/bustix-go/internal/repository"
	"github.com/olekht/bustix-go/internal/repository/memory"
	"github.com/olekht/bustix-go/internal/service/schedule"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateBusValidatesLayout(t *testing.T) {
	ctx := context.Background()
	svc := schedule.New(memory.NewStore(), schedule.Config{})

	bus := domain.Bus{
		BusNumber: "BX-100", Source: "Lviv", Destination: "Kyiv",
		StartTime: time.Now().Add(24 * time.Hour),
	}

	_, err := svc.CreateBus(ctx, bus, nil, nil)
	assert.ErrorIs(t, err, schedule.ErrInvalidLayout)

	_, err = svc.CreateBus(ctx, bus, nil, []string{"1", ""})
	assert.ErrorIs(t, err, schedule.ErrInvalidLayout)

	_, err = svc.CreateBus(ctx, bus, nil, []string{"1", "1"})
	assert.ErrorIs(t, err, schedule.ErrInvalidLayout)

	id, err := svc.CreateBus(ctx, bus, []domain.Stop{
		{StopName: "Central", StopTime: bus.StartTime},
	}, []string{"1", "2"})
	require.NoError(t, err)
	assert.NotZero(t, id)

	got, err := svc.GetBus(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "BX-100", got.BusNumber)
}

func TestGetBusNotFound(t *testing.T) {
	svc := schedule.New(memory.NewStore(), schedule.Config{})

	_, err := svc.GetBus(context.Background(), 42)
	assert.ErrorIs(t, err, schedule.ErrBusNotFound)

	_, err = svc.ListStops(context.Background(), repository.StopFilter{BusID: 42})
	assert.ErrorIs(t, err, schedule.ErrBusNotFound)
}

func TestListBusesClampsPage(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	svc := schedule.New(store, schedule.Config{DefaultPage: 2, MaxPage: 3})

	for _, n := range []string{"BX-1", "BX-2", "BX-3", "BX-4"} {
		_, err := svc.CreateBus(ctx, domain.Bus{
			BusNumber: n, Source: "Lviv", Destination: "Kyiv",
			StartTime: time.Now(),
		}, nil, []string{"1"})
		require.NoError(t, err)
	}

	out, err := svc.ListBuses(ctx, repository.BusFilter{})
	require.NoError(t, err)
	assert.Len(t, out, 2)

	out, err = svc.ListBuses(ctx, repository.BusFilter{Limit: 100})
	require.NoError(t, err)
	assert.Len(t, out, 3)
}
