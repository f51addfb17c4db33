package tests

import (
	"bytes"
	"swiftdb/tracker/auth"
	"swiftdb/tracker/schema"
	"swiftdb/tracker/services"
	"testing"

	"github.com/go-chi/chi/v5"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type testEnv struct {
	tracker  *services.Tracker
	api      chi.Router
	db       *gorm.DB
	auditLog *bytes.Buffer
}

const (
	adminUsername = "admin123"
	adminPassword = "admin_password123"
)

func setupTestEnv(t *testing.T) *testEnv {
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	if err != nil {
		t.Fatal(err)
	}

	if err := db.AutoMigrate(schema.AllModels()...); err != nil {
		t.Fatal(err)
	}

	auditLog := new(bytes.Buffer)

	session, err := auth.NewSessionProvider(
		db,
		auth.NewAuditLogger(auditLog),
		auth.SessionProviderArgs{
			Secret:        []byte("290zcv02ai249"),
			AdminUsername: adminUsername,
			AdminPassword: adminPassword,
		},
	)
	if err != nil {
		t.Fatal(err)
	}

	tracker := services.NewTracker(db, session)

	return &testEnv{tracker: tracker, api: tracker.Routes(), db: db, auditLog: auditLog}
}

func (t *testEnv) newClient() client {
	return client{api: t.api}
}

func (t *testEnv) adminClient() (client, error) {
	c := t.newClient()
	err := c.login(loginInfo{Username: adminUsername, Password: adminPassword})
	return c, err
}

// newUser creates a user through the admin api and returns a client logged in
// as that user.
func (t *testEnv) newUser(admin client, username string) (client, error) {
	login, err := admin.addUser(username, username+"_password")
	if err != nil {
		return client{}, err
	}

	c := t.newClient()
	if err := c.login(login); err != nil {
		return client{}, err
	}
	return c, nil
}
