// Package file implements a user directory backed by a single JSON or YAML file.
//
// The file is read lazily on the first lookup and kept in memory afterwards;
// it is never re-read by the same instance. RegisterUser and RemoveUser only
// touch memory; Write replaces the whole file. A UserDirectory is not safe for
// concurrent use; wrap it with repository.NewSynchronized when shared.
//
// An existing but empty file counts as available and loads as an empty
// directory; only a missing or unreadable file is unavailable.
package file

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"unicode/utf8"

	pkgcrypto "github.com/thecodingmachine/security.userfiledao/internal/crypto"
	"github.com/thecodingmachine/security.userfiledao/internal/convert"
	"github.com/thecodingmachine/security.userfiledao/internal/errs"
	"github.com/thecodingmachine/security.userfiledao/internal/model"
	"github.com/thecodingmachine/security.userfiledao/internal/repository"
)

const defaultFileMode os.FileMode = 0o600

// UserDirectory is the file-backed Directory.
type UserDirectory struct {
	path   string
	codec  codec
	loaded bool
	users  map[string]*model.UserRecord
}

var _ repository.Directory = (*UserDirectory)(nil)

// New returns a directory over the file at path. A relative path is resolved
// against the working directory once, here.
func New(path string) (*UserDirectory, error) {
	if path == "" {
		return nil, errors.New("empty user file path")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve user file path: %w", err)
	}
	return &UserDirectory{
		path:  abs,
		codec: codecFor(abs),
		users: make(map[string]*model.UserRecord),
	}, nil
}

// Path returns the resolved backing file path.
func (d *UserDirectory) Path() string { return d.path }

// Loaded reports whether the backing file has been read.
func (d *UserDirectory) Loaded() bool { return d.loaded }

// LookupByLogin loads the file if needed and returns the user, or nil.
func (d *UserDirectory) LookupByLogin(ctx context.Context, login string) (*model.UserRecord, error) {
	if err := d.load(ctx); err != nil {
		return nil, err
	}
	return d.users[login], nil
}

// LookupByID is LookupByLogin: ids are logins in this backend.
func (d *UserDirectory) LookupByID(ctx context.Context, id string) (*model.UserRecord, error) {
	return d.LookupByLogin(ctx, id)
}

// LookupByCredentials returns the user only when password verifies against
// its stored hash.
func (d *UserDirectory) LookupByCredentials(ctx context.Context, login, password string) (*model.UserRecord, error) {
	u, err := d.LookupByLogin(ctx, login)
	if err != nil {
		return nil, err
	}
	if u == nil {
		pkgcrypto.VerifyNothing(password)
		return nil, nil
	}
	if !pkgcrypto.VerifyPassword(password, u.EncodedPassword()) {
		return nil, nil
	}
	return u, nil
}

// LookupByToken always fails: the file backend does not store tokens.
func (d *UserDirectory) LookupByToken(context.Context, string) (*model.UserRecord, error) {
	return nil, fmt.Errorf("%w: LookupByToken is not implemented by the file user directory", errs.ErrUnsupported)
}

// DiscardToken always fails: the file backend does not store tokens.
func (d *UserDirectory) DiscardToken(context.Context, string) error {
	return fmt.Errorf("%w: DiscardToken is not implemented by the file user directory", errs.ErrUnsupported)
}

// RegisterUser inserts or replaces the user in memory. Call Write to persist.
func (d *UserDirectory) RegisterUser(_ context.Context, u *model.UserRecord) error {
	if u == nil {
		return errors.New("nil user")
	}
	d.users[u.Login()] = u
	return nil
}

// RemoveUser deletes the user from memory. Call Write to persist.
func (d *UserDirectory) RemoveUser(_ context.Context, login string) error {
	delete(d.users, login)
	return nil
}

// Logins returns all logins in sorted order, loading the file if needed.
func (d *UserDirectory) Logins(ctx context.Context) ([]string, error) {
	if err := d.load(ctx); err != nil {
		return nil, err
	}
	return slices.Sorted(maps.Keys(d.users)), nil
}

// Len returns the number of users, loading the file if needed.
func (d *UserDirectory) Len(ctx context.Context) (int, error) {
	if err := d.load(ctx); err != nil {
		return 0, err
	}
	return len(d.users), nil
}

// IsAvailable reports whether the backing file exists and is readable.
// It does not load it.
func (d *UserDirectory) IsAvailable(context.Context) bool {
	f, err := os.Open(d.path)
	if err != nil {
		return false
	}
	defer f.Close()
	st, err := f.Stat()
	return err == nil && st.Mode().IsRegular()
}

// load reads the backing file once. Users registered before the first load
// take precedence over file entries with the same login.
func (d *UserDirectory) load(ctx context.Context) error {
	if d.loaded {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := os.ReadFile(d.path)
	if err != nil {
		return fmt.Errorf("%w: could not load the user file %s: %w", errs.ErrStorageUnavailable, d.path, err)
	}
	doc, err := d.codec.decode(data)
	if err != nil {
		return fmt.Errorf("%w: parse %s user file %s: %w", errs.ErrStorageUnavailable, d.codec.name(), d.path, err)
	}

	parsed := make(map[string]*model.UserRecord, len(doc.Users))
	for login, fu := range doc.Users {
		opts, err := convert.ToValue(fu.Options)
		if err != nil {
			return fmt.Errorf("%w: user %q options in %s: %w", errs.ErrStorageUnavailable, login, d.path, err)
		}
		parsed[login] = model.NewUserRecord(login, fu.Password, opts)
	}
	for login, u := range parsed {
		if _, exists := d.users[login]; !exists {
			d.users[login] = u
		}
	}
	d.loaded = true
	return nil
}

// Write serializes every in-memory user and atomically replaces the backing file.
func (d *UserDirectory) Write(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := d.checkWritable(); err != nil {
		return err
	}

	doc := document{Users: make(map[string]fileUser, len(d.users))}
	for login, u := range d.users {
		if !utf8.ValidString(login) {
			return fmt.Errorf("%w: login %q is not valid UTF-8", errs.ErrSerialization, login)
		}
		opts, err := convert.FromValue(u.Options())
		if err != nil {
			return fmt.Errorf("user %q options: %w", login, err)
		}
		doc.Users[login] = fileUser{Password: u.EncodedPassword(), Options: opts}
	}
	data, err := d.codec.encode(doc)
	if err != nil {
		return fmt.Errorf("%w: encode %s: %w", errs.ErrSerialization, d.codec.name(), err)
	}
	if err := d.verifyEncoded(data); err != nil {
		return err
	}
	return writeFileAtomic(d.path, data)
}

// verifyEncoded decodes data again and checks it yields exactly the in-memory
// users, so a write never produces a file the next load rejects or alters.
func (d *UserDirectory) verifyEncoded(data []byte) error {
	back, err := d.codec.decode(data)
	if err != nil {
		return fmt.Errorf("%w: encoded %s does not parse back: %w", errs.ErrSerialization, d.codec.name(), err)
	}
	if len(back.Users) != len(d.users) {
		return fmt.Errorf("%w: encoded %s holds %d users, want %d", errs.ErrSerialization, d.codec.name(), len(back.Users), len(d.users))
	}
	for login, u := range d.users {
		fu, ok := back.Users[login]
		if !ok {
			return fmt.Errorf("%w: login %q does not survive %s encoding", errs.ErrSerialization, login, d.codec.name())
		}
		opts, err := convert.ToValue(fu.Options)
		if err != nil {
			return fmt.Errorf("%w: user %q options: %w", errs.ErrSerialization, login, err)
		}
		if fu.Password != u.EncodedPassword() || !convert.Equal(opts, u.Options()) {
			return fmt.Errorf("%w: user %q does not survive %s encoding", errs.ErrSerialization, login, d.codec.name())
		}
	}
	return nil
}

// checkWritable fails when the target directory is missing or the existing
// file cannot be opened for writing.
func (d *UserDirectory) checkWritable() error {
	dir := filepath.Dir(d.path)
	st, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("%w: unable to write file %s: %w", errs.ErrNotWritable, d.path, err)
	}
	if !st.IsDir() {
		return fmt.Errorf("%w: unable to write file %s: %s is not a directory", errs.ErrNotWritable, d.path, dir)
	}
	f, err := os.OpenFile(d.path, os.O_WRONLY, 0)
	switch {
	case err == nil:
		return f.Close()
	case errors.Is(err, os.ErrNotExist):
		return nil
	default:
		return fmt.Errorf("%w: unable to write file %s: %w", errs.ErrNotWritable, d.path, err)
	}
}

// writeFileAtomic writes data to a temp file next to path and renames it over path.
func writeFileAtomic(path string, data []byte) (err error) {
	mode := defaultFileMode
	if st, statErr := os.Stat(path); statErr == nil {
		mode = st.Mode().Perm()
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("%w: unable to write file %s: %w", errs.ErrNotWritable, path, err)
	}
	defer func() {
		if err != nil {
			_ = os.Remove(tmp.Name())
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write %s: %w", tmp.Name(), err)
	}
	if err = tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync %s: %w", tmp.Name(), err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", tmp.Name(), err)
	}
	if err = os.Chmod(tmp.Name(), mode); err != nil {
		return fmt.Errorf("chmod %s: %w", tmp.Name(), err)
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("%w: replace %s: %w", errs.ErrNotWritable, path, err)
	}
	return nil
}
