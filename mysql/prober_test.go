package mysql

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	mysqldriver "github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mockProber(t *testing.T) (*Prober, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	if err != nil {
		t.Fatalf("an error '%s' was not expected when opening a stub database connection", err)
	}
	p := NewProber(Credentials{User: "mysqladmin", Password: "pw"})
	p.open = func(string) (*sql.DB, error) { return db, nil }
	return p, mock
}

func TestProbeOnlineMember(t *testing.T) {
	p, mock := mockProber(t)
	mock.ExpectPing()
	rows := sqlmock.NewRows([]string{"MEMBER_STATE", "MEMBER_ROLE", "MEMBER_VERSION"}).
		AddRow("ONLINE", "PRIMARY", "8.4.6")
	mock.ExpectQuery("SELECT MEMBER_STATE, MEMBER_ROLE, MEMBER_VERSION FROM performance_schema.replication_group_members").
		WillReturnRows(rows)
	mock.ExpectClose()

	st, err := p.Probe(context.Background(), "mycluster-0.mycluster-instances.ns.svc")
	require.NoError(t, err)
	assert.Equal(t, Status{State: MemberOnline, Role: RolePrimary, Version: "8.4.6"}, st)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProbeNotInGroup(t *testing.T) {
	p, mock := mockProber(t)
	mock.ExpectPing()
	mock.ExpectQuery("SELECT MEMBER_STATE").
		WillReturnRows(sqlmock.NewRows([]string{"MEMBER_STATE", "MEMBER_ROLE", "MEMBER_VERSION"}))
	mock.ExpectClose()

	st, err := p.Probe(context.Background(), "host")
	require.NoError(t, err)
	assert.Equal(t, MemberOffline, st.State)
}

func TestProbeFailures(t *testing.T) {
	t.Run("ping fails", func(t *testing.T) {
		p, mock := mockProber(t)
		mock.ExpectPing().WillReturnError(errors.New("connection refused"))
		mock.ExpectClose()

		_, err := p.Probe(context.Background(), "host")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unable to ping host")
	})

	t.Run("query fails", func(t *testing.T) {
		p, mock := mockProber(t)
		mock.ExpectPing()
		mock.ExpectQuery("SELECT MEMBER_STATE").WillReturnError(errors.New("no performance_schema"))
		mock.ExpectClose()

		_, err := p.Probe(context.Background(), "host")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "error executing")
	})
}

func TestDSN(t *testing.T) {
	p := NewProber(Credentials{User: "mysqladmin", Password: "secret"})
	cfg, err := mysqldriver.ParseDSN(p.DSN("db-0.db"))
	require.NoError(t, err)
	assert.Equal(t, "mysqladmin", cfg.User)
	assert.Equal(t, "secret", cfg.Passwd)
	assert.Equal(t, "tcp", cfg.Net)
	assert.Equal(t, "db-0.db:3306", cfg.Addr)
	assert.Equal(t, 5*time.Second, cfg.Timeout)
	assert.True(t, cfg.InterpolateParams)
}

func TestCountOnline(t *testing.T) {
	members := []Member{
		{Index: 0, State: MemberOnline},
		{Index: 1, State: MemberRecovering},
		{Index: 2, State: MemberOnline},
	}
	assert.Equal(t, 2, CountOnline(members))
}
