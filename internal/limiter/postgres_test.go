package limiter

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type fakeRow struct{ scan func(dest ...any) error }

func (r fakeRow) Scan(dest ...any) error { return r.scan(dest...) }

type fakeDB struct {
	qrErr        error
	blockedUntil time.Time
	failsRet     int

	lastExecSQL string
	execErr     error
}

func (f *fakeDB) Exec(_ context.Context, sql string, _ ...any) (pgconn.CommandTag, error) {
	f.lastExecSQL = sql
	return pgconn.CommandTag{}, f.execErr
}

func (f *fakeDB) QueryRow(_ context.Context, sql string, _ ...any) pgx.Row {
	switch {
	case strings.Contains(sql, "SELECT blocked_until"):
		return fakeRow{scan: func(dest ...any) error {
			if f.qrErr != nil {
				return f.qrErr
			}
			*(dest[0].(*time.Time)) = f.blockedUntil
			return nil
		}}
	case strings.Contains(sql, "RETURNING fail_count"):
		return fakeRow{scan: func(dest ...any) error {
			if f.qrErr != nil {
				return f.qrErr
			}
			*(dest[0].(*int)) = f.failsRet
			return nil
		}}
	default:
		return fakeRow{scan: func(...any) error { return errors.New("unexpected query") }}
	}
}

var testPolicy = Policy{Window: 5 * time.Minute, MaxFails: 5, BlockFor: 10 * time.Minute}

func TestPG_Allow(t *testing.T) {
	ctx := context.Background()

	l := NewPG(&fakeDB{qrErr: pgx.ErrNoRows}, testPolicy)
	if ok, dur, err := l.Allow(ctx, "u", []byte("h")); err != nil || !ok || dur != 0 {
		t.Fatalf("no row: ok=%v dur=%v err=%v", ok, dur, err)
	}

	l = NewPG(&fakeDB{blockedUntil: time.Now().Add(10 * time.Minute)}, testPolicy)
	if ok, dur, err := l.Allow(ctx, "u", []byte("h")); err != nil || ok || dur <= 0 {
		t.Fatalf("blocked: ok=%v dur=%v err=%v", ok, dur, err)
	}

	l = NewPG(&fakeDB{blockedUntil: time.Now().Add(-time.Minute)}, testPolicy)
	if ok, dur, err := l.Allow(ctx, "u", []byte("h")); err != nil || !ok || dur != 0 {
		t.Fatalf("expired block: ok=%v dur=%v err=%v", ok, dur, err)
	}

	l = NewPG(&fakeDB{qrErr: errors.New("db boom")}, testPolicy)
	if ok, _, err := l.Allow(ctx, "u", []byte("h")); err == nil || ok {
		t.Fatalf("want error propagate, got ok=%v err=%v", ok, err)
	}
}

func TestPG_Success(t *testing.T) {
	fp := &fakeDB{}
	l := NewPG(fp, testPolicy)

	if err := l.Success(context.Background(), "u", []byte("h")); err != nil {
		t.Fatalf("success err: %v", err)
	}
	if !strings.Contains(fp.lastExecSQL, "INSERT INTO login_attempts") {
		t.Fatalf("unexpected exec: %s", fp.lastExecSQL)
	}

	fp.execErr = errors.New("exec fail")
	if err := l.Success(context.Background(), "u", []byte("h")); err == nil {
		t.Fatalf("want exec error")
	}
}

func TestPG_Failure(t *testing.T) {
	ctx := context.Background()

	fp := &fakeDB{failsRet: 2}
	blocked, dur, err := NewPG(fp, testPolicy).Failure(ctx, "u", []byte("h"))
	if err != nil || blocked || dur != 0 {
		t.Fatalf("below threshold: blocked=%v dur=%v err=%v", blocked, dur, err)
	}

	fp = &fakeDB{failsRet: 5}
	blocked, dur, err = NewPG(fp, testPolicy).Failure(ctx, "u", []byte("h"))
	if err != nil || !blocked || dur != 10*time.Minute {
		t.Fatalf("at threshold: blocked=%v dur=%v err=%v", blocked, dur, err)
	}
	if !strings.Contains(fp.lastExecSQL, "UPDATE login_attempts SET blocked_until") {
		t.Fatalf("must update blocked_until, exec=%s", fp.lastExecSQL)
	}

	fp = &fakeDB{failsRet: 5, execErr: errors.New("exec fail")}
	if _, _, err := NewPG(fp, testPolicy).Failure(ctx, "u", []byte("h")); err == nil {
		t.Fatalf("want error from block update")
	}

	fp = &fakeDB{qrErr: errors.New("query error")}
	if _, _, err := NewPG(fp, testPolicy).Failure(ctx, "u", []byte("h")); err == nil {
		t.Fatalf("want error from returning fail_count")
	}
}

func TestHashSource(t *testing.T) {
	a := HashSource("1.2.3.4:123")
	b := HashSource("1.2.3.4:123")
	c := HashSource("5.6.7.8:321")
	if string(a) != string(b) || string(a) == string(c) || len(a) != 32 {
		t.Fatalf("hash mismatch/len: %d", len(a))
	}
}
