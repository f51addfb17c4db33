package tests

import (
	"bufio"
	"bytes"
	"encoding/json"
	"testing"
)

func lastAuditEntry(t *testing.T, log *bytes.Buffer) map[string]interface{} {
	t.Helper()

	var last string
	scanner := bufio.NewScanner(bytes.NewReader(log.Bytes()))
	for scanner.Scan() {
		last = scanner.Text()
	}
	if last == "" {
		t.Fatal("no audit entries written")
	}

	var entry map[string]interface{}
	if err := json.Unmarshal([]byte(last), &entry); err != nil {
		t.Fatalf("unparsable audit entry '%v': %v", last, err)
	}
	return entry
}

func TestAuditLogRecordsCallerRoles(t *testing.T) {
	env := setupTestEnv(t)

	admin, err := env.adminClient()
	if err != nil {
		t.Fatal(err)
	}

	if err := admin.Get("/user/list").Do(nil); err != nil {
		t.Fatal(err)
	}

	entry := lastAuditEntry(t, env.auditLog)
	if entry["username"] != adminUsername || entry["url"] != "/user/list" {
		t.Fatalf("unexpected audit entry %v", entry)
	}
	roles, ok := entry["roles"].(map[string]interface{})
	if !ok || roles["admin"] != true || roles["reader"] != false {
		t.Fatalf("audit entry should carry derived role flags, got %v", entry)
	}

	if _, err := admin.createWorkPackage("WP1", "Research", ""); err != nil {
		t.Fatal(err)
	}
	leader, err := env.newUser(admin, "leader")
	if err != nil {
		t.Fatal(err)
	}
	if err := admin.setAccess(leader.userId, []string{"WP1"}, nil); err != nil {
		t.Fatal(err)
	}

	if err := leader.Get("/workpackage/assigned").Do(nil); err != nil {
		t.Fatal(err)
	}

	entry = lastAuditEntry(t, env.auditLog)
	if entry["username"] != "leader" {
		t.Fatalf("unexpected audit entry %v", entry)
	}
	roles, ok = entry["roles"].(map[string]interface{})
	if !ok || roles["admin"] != false || roles["work_package_grants"].(float64) != 1 {
		t.Fatalf("audit entry should count the leader's grants, got %v", entry)
	}
}
