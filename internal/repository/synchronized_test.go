package repository_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/thecodingmachine/security.userfiledao/internal/model"
	"github.com/thecodingmachine/security.userfiledao/internal/repository"
	"github.com/thecodingmachine/security.userfiledao/internal/repository/file"
)

func TestSynchronized_ConcurrentRegister(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	path := filepath.Join(t.TempDir(), "users.json")
	require.NoError(t, os.WriteFile(path, nil, 0o600))
	fd, err := file.New(path)
	require.NoError(t, err)
	dir := repository.NewSynchronized(fd)

	var wg sync.WaitGroup
	for i := range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			login := fmt.Sprintf("user%02d", i)
			assertNoErr(t, dir.RegisterUser(ctx, model.NewUserRecord(login, "hash", nil)))
			u, err := dir.LookupByID(ctx, login)
			assertNoErr(t, err)
			if u == nil || u.Login() != login {
				t.Errorf("lookup %s: got %v", login, u)
			}
		}()
	}
	wg.Wait()

	require.NoError(t, dir.Write(ctx))
	require.True(t, dir.IsAvailable(ctx))

	fresh, err := file.New(fd.Path())
	require.NoError(t, err)
	n, err := fresh.Len(ctx)
	require.NoError(t, err)
	require.Equal(t, 16, n)
}

func TestSynchronized_DoesNotExposeTokenIssuer(t *testing.T) {
	t.Parallel()

	fd, err := file.New(filepath.Join(t.TempDir(), "users.json"))
	require.NoError(t, err)
	var d repository.Directory = repository.NewSynchronized(fd)
	_, ok := d.(repository.TokenIssuer)
	require.False(t, ok)
}

func assertNoErr(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Error(err)
	}
}
