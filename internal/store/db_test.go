package store

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestPoolConfigDefaults(t *testing.T) {
	cases := []struct {
		name string
		in   PoolConfig
		want PoolConfig
	}{
		{
			name: "zero value",
			want: PoolConfig{MaxOpenConns: 20, MaxIdleConns: 10, ConnMaxLifetime: 30 * time.Minute, ConnMaxIdleTime: 5 * time.Minute, ApplicationName: "taskboard-api"},
		},
		{
			name: "idle capped at open",
			in:   PoolConfig{MaxOpenConns: 4, MaxIdleConns: 9, ApplicationName: "scanner"},
			want: PoolConfig{MaxOpenConns: 4, MaxIdleConns: 4, ConnMaxLifetime: 30 * time.Minute, ConnMaxIdleTime: 5 * time.Minute, ApplicationName: "scanner"},
		},
		{
			name: "explicit values kept",
			in:   PoolConfig{MaxOpenConns: 50, MaxIdleConns: 5, ConnMaxLifetime: time.Hour, ConnMaxIdleTime: time.Minute, ApplicationName: "api"},
			want: PoolConfig{MaxOpenConns: 50, MaxIdleConns: 5, ConnMaxLifetime: time.Hour, ConnMaxIdleTime: time.Minute, ApplicationName: "api"},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.in.withDefaults(); got != tc.want {
				t.Fatalf("withDefaults() = %+v, want %+v", got, tc.want)
			}
		})
	}
}

func TestOpenRejectsMalformedURL(t *testing.T) {
	_, err := Open(context.Background(), "postgres://taskboard@localhost:notaport/taskboard", PoolConfig{})
	if err == nil {
		t.Fatal("expected malformed url to fail")
	}
	if !strings.Contains(err.Error(), "parse database url") {
		t.Fatalf("expected parse error before connecting, got %v", err)
	}
}
