package members

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"serotonyl.ru/valuecard/internal/common"
)

func TestCardLocker_SerializesSameCard(t *testing.T) {
	l := NewCardLocker()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		inside  int
		maxSeen int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := l.Lock(context.Background(), "CF1")
			require.NoError(t, err)
			defer unlock()

			mu.Lock()
			inside++
			if inside > maxSeen {
				maxSeen = inside
			}
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			inside--
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, maxSeen)
	assert.Equal(t, 0, l.Held(), "после освобождения записи удаляются")
}

func TestCardLocker_DifferentCardsIndependent(t *testing.T) {
	l := NewCardLocker()

	unlockA, err := l.Lock(context.Background(), "CF1")
	require.NoError(t, err)
	defer unlockA()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	unlockB, err := l.Lock(ctx, "CF2")
	require.NoError(t, err)
	unlockB()
}

func TestCardLocker_Timeout(t *testing.T) {
	l := NewCardLocker()

	unlock, err := l.Lock(context.Background(), "CF1")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = l.Lock(ctx, "CF1")
	assert.ErrorIs(t, err, common.ErrLockTimeout)

	unlock()
	unlock() // повторный вызов безопасен

	again, err := l.Lock(context.Background(), "CF1")
	require.NoError(t, err)
	again()
	assert.Equal(t, 0, l.Held())
}
