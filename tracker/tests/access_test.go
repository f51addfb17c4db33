package tests

import (
	"fmt"
	"net/http"
	"slices"
	"testing"
)

type accessEntry struct {
	Username     string   `json:"username"`
	WorkPackages []string `json:"work_packages"`
	Partners     []string `json:"partners"`
}

func TestAccessGrantReconciliation(t *testing.T) {
	env := setupTestEnv(t)

	admin, err := env.adminClient()
	if err != nil {
		t.Fatal(err)
	}

	for _, code := range []string{"WP1", "WP2", "WP3"} {
		if _, err := admin.createWorkPackage(code, code+" name", ""); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := admin.createPartner("acme", "DE", "research"); err != nil {
		t.Fatal(err)
	}

	user, err := env.newUser(admin, "leader")
	if err != nil {
		t.Fatal(err)
	}

	if err := admin.setAccess(user.userId, []string{"WP1", "WP2"}, []string{"acme"}); err != nil {
		t.Fatal(err)
	}

	var grants accessEntry
	if err := admin.Get(fmt.Sprintf("/access/%v", user.userId)).Do(&grants); err != nil {
		t.Fatal(err)
	}
	if grants.Username != "leader" {
		t.Fatalf("unexpected username %v", grants.Username)
	}
	if !slices.Equal(grants.WorkPackages, []string{"WP1", "WP2"}) {
		t.Fatalf("unexpected work package grants %v", grants.WorkPackages)
	}
	if !slices.Equal(grants.Partners, []string{"acme"}) {
		t.Fatalf("unexpected partner grants %v", grants.Partners)
	}

	// Replacing the set adds WP3, keeps WP2, and removes WP1 and acme.
	if err := admin.setAccess(user.userId, []string{"WP2", "WP3"}, nil); err != nil {
		t.Fatal(err)
	}

	if err := admin.Get(fmt.Sprintf("/access/%v", user.userId)).Do(&grants); err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(grants.WorkPackages, []string{"WP2", "WP3"}) {
		t.Fatalf("unexpected work package grants after update %v", grants.WorkPackages)
	}
	if len(grants.Partners) != 0 {
		t.Fatalf("partner grant should be removed, got %v", grants.Partners)
	}

	// Applying the same set again is a no-op.
	if err := admin.setAccess(user.userId, []string{"WP2", "WP3"}, nil); err != nil {
		t.Fatal(err)
	}
	if err := admin.Get(fmt.Sprintf("/access/%v", user.userId)).Do(&grants); err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(grants.WorkPackages, []string{"WP2", "WP3"}) {
		t.Fatalf("grants should be unchanged, got %v", grants.WorkPackages)
	}
}

func TestAccessGrantDuplicatesCollapse(t *testing.T) {
	env := setupTestEnv(t)

	admin, err := env.adminClient()
	if err != nil {
		t.Fatal(err)
	}

	if _, err := admin.createWorkPackage("WP1", "Research", ""); err != nil {
		t.Fatal(err)
	}
	if _, err := admin.createPartner("acme", "DE", "research"); err != nil {
		t.Fatal(err)
	}

	user, err := env.newUser(admin, "leader")
	if err != nil {
		t.Fatal(err)
	}

	err = admin.setAccess(user.userId, []string{"WP1", "WP1"}, []string{"acme", "acme"})
	if err != nil {
		t.Fatal(err)
	}

	var grants accessEntry
	if err := admin.Get(fmt.Sprintf("/access/%v", user.userId)).Do(&grants); err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(grants.WorkPackages, []string{"WP1"}) {
		t.Fatalf("repeated work package grant should collapse, got %v", grants.WorkPackages)
	}
	if !slices.Equal(grants.Partners, []string{"acme"}) {
		t.Fatalf("repeated partner grant should collapse, got %v", grants.Partners)
	}
}

func TestAccessValidation(t *testing.T) {
	env := setupTestEnv(t)

	admin, err := env.adminClient()
	if err != nil {
		t.Fatal(err)
	}

	user, err := env.newUser(admin, "leader")
	if err != nil {
		t.Fatal(err)
	}

	err = admin.setAccess(user.userId, []string{"WP9"}, nil)
	if StatusCode(err) != http.StatusUnprocessableEntity {
		t.Fatalf("unknown work package grant should be rejected: %v", err)
	}

	err = admin.setAccess(user.userId, nil, []string{"nosuchpartner"})
	if StatusCode(err) != http.StatusUnprocessableEntity {
		t.Fatalf("unknown partner grant should be rejected: %v", err)
	}

	err = admin.setAccess("00000000-0000-0000-0000-000000000000", nil, nil)
	if StatusCode(err) != http.StatusNotFound {
		t.Fatalf("unknown user should be not found: %v", err)
	}

	err = user.setAccess(user.userId, nil, []string{"admin"})
	if StatusCode(err) != http.StatusForbidden {
		t.Fatalf("non-admins cannot grant access: %v", err)
	}
}

func TestSentinelGrantsAssignRoles(t *testing.T) {
	env := setupTestEnv(t)

	admin, err := env.adminClient()
	if err != nil {
		t.Fatal(err)
	}

	user, err := env.newUser(admin, "promoted")
	if err != nil {
		t.Fatal(err)
	}

	if err := admin.setAccess(user.userId, nil, []string{"ViewAll"}); err != nil {
		t.Fatal(err)
	}
	info, err := user.userInfo()
	if err != nil {
		t.Fatal(err)
	}
	if !info.Reader || info.Admin {
		t.Fatalf("ViewAll grant should make a reader, got %v", info)
	}

	if err := admin.setAccess(user.userId, nil, []string{"admin"}); err != nil {
		t.Fatal(err)
	}
	info, err = user.userInfo()
	if err != nil {
		t.Fatal(err)
	}
	if !info.Admin {
		t.Fatalf("admin grant should make an admin, got %v", info)
	}

	// The promoted user can now use admin routes.
	if _, err := user.createPartner("acme", "DE", "research"); err != nil {
		t.Fatal(err)
	}
}
