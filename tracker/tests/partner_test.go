package tests

import (
	"fmt"
	"net/http"
	"swiftdb/tracker/schema"
	"testing"
)

type partnerEntry struct {
	Id      string `json:"id"`
	Name    string `json:"name"`
	Country string `json:"country"`
	Role    string `json:"role"`
}

func TestPartnerCrud(t *testing.T) {
	env := setupTestEnv(t)

	admin, err := env.adminClient()
	if err != nil {
		t.Fatal(err)
	}

	partnerId, err := admin.createPartner("acme", "DE", "research")
	if err != nil {
		t.Fatal(err)
	}

	_, err = admin.createPartner("acme", "FR", "industry")
	if StatusCode(err) != http.StatusConflict {
		t.Fatalf("duplicate partner name should conflict: %v", err)
	}

	var partners []partnerEntry
	if err := admin.Get("/partner/list").Do(&partners); err != nil {
		t.Fatal(err)
	}
	if len(partners) != 1 || partners[0].Name != "acme" || partners[0].Country != "DE" {
		t.Fatalf("unexpected partner list %v", partners)
	}

	body := map[string]string{"name": "acme-renamed", "country": "DE", "role": "research"}
	if err := admin.Post(fmt.Sprintf("/partner/%v", partnerId)).Json(body).Do(nil); err != nil {
		t.Fatal(err)
	}

	if err := admin.Delete(fmt.Sprintf("/partner/%v", partnerId)).Do(nil); err != nil {
		t.Fatal(err)
	}

	if err := admin.Get("/partner/list").Do(&partners); err != nil {
		t.Fatal(err)
	}
	if len(partners) != 0 {
		t.Fatalf("partner should be deleted, got %v", partners)
	}
}

func TestSentinelPartnersAreHidden(t *testing.T) {
	env := setupTestEnv(t)

	admin, err := env.adminClient()
	if err != nil {
		t.Fatal(err)
	}

	var partners []partnerEntry
	if err := admin.Get("/partner/list").Do(&partners); err != nil {
		t.Fatal(err)
	}
	for _, p := range partners {
		if p.Name == "admin" || p.Name == "ViewAll" {
			t.Fatalf("sentinel partner %v should not be listed", p.Name)
		}
	}

	_, err = admin.createPartner("ViewAll", "", "")
	if StatusCode(err) != http.StatusUnprocessableEntity {
		t.Fatalf("sentinel names are reserved: %v", err)
	}
}

func TestSentinelPartnersCannotBeDeletedOrRenamed(t *testing.T) {
	env := setupTestEnv(t)

	admin, err := env.adminClient()
	if err != nil {
		t.Fatal(err)
	}

	var sentinels []schema.Partner
	if err := env.db.Find(&sentinels, "name in ?", []string{"admin", "ViewAll"}).Error; err != nil {
		t.Fatal(err)
	}
	if len(sentinels) != 2 {
		t.Fatalf("sentinel partners should be seeded, got %v", sentinels)
	}

	for _, sentinel := range sentinels {
		err := admin.Delete(fmt.Sprintf("/partner/%v", sentinel.Id)).Do(nil)
		if StatusCode(err) != http.StatusForbidden {
			t.Fatalf("deleting sentinel %v should be forbidden: %v", sentinel.Name, err)
		}

		body := map[string]string{"name": "renamed", "country": "", "role": ""}
		err = admin.Post(fmt.Sprintf("/partner/%v", sentinel.Id)).Json(body).Do(nil)
		if StatusCode(err) != http.StatusForbidden {
			t.Fatalf("renaming sentinel %v should be forbidden: %v", sentinel.Name, err)
		}
	}

	var count int64
	if err := env.db.Model(&schema.Partner{}).Count(&count).Error; err != nil {
		t.Fatal(err)
	}
	if count != 2 {
		t.Fatalf("partner table should be unchanged, got %d rows", count)
	}
}

func TestPartnerRenameCascades(t *testing.T) {
	env := setupTestEnv(t)

	admin, err := env.adminClient()
	if err != nil {
		t.Fatal(err)
	}

	if _, err := admin.createWorkPackage("WP1", "Research", ""); err != nil {
		t.Fatal(err)
	}
	partnerId, err := admin.createPartner("acme", "DE", "research")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := admin.createTask("T1.1", "WP1", "acme", "prototype"); err != nil {
		t.Fatal(err)
	}

	user, err := env.newUser(admin, "leader")
	if err != nil {
		t.Fatal(err)
	}
	if err := admin.setAccess(user.userId, nil, []string{"acme"}); err != nil {
		t.Fatal(err)
	}

	body := map[string]string{"name": "umbrella", "country": "DE", "role": "research"}
	if err := admin.Post(fmt.Sprintf("/partner/%v", partnerId)).Json(body).Do(nil); err != nil {
		t.Fatal(err)
	}

	var tasks []map[string]interface{}
	if err := admin.Get("/task/list").Do(&tasks); err != nil {
		t.Fatal(err)
	}
	if len(tasks) != 1 || tasks[0]["partner"] != "umbrella" {
		t.Fatalf("task should reference renamed partner, got %v", tasks)
	}

	info, err := user.userInfo()
	if err != nil {
		t.Fatal(err)
	}
	if len(info.Partners) != 1 || info.Partners[0] != "umbrella" {
		t.Fatalf("grant should follow rename, got %v", info.Partners)
	}
}

func TestPartnerDeleteBlockedByDependents(t *testing.T) {
	env := setupTestEnv(t)

	admin, err := env.adminClient()
	if err != nil {
		t.Fatal(err)
	}

	if _, err := admin.createWorkPackage("WP1", "Research", ""); err != nil {
		t.Fatal(err)
	}
	partnerId, err := admin.createPartner("acme", "DE", "research")
	if err != nil {
		t.Fatal(err)
	}
	taskId, err := admin.createTask("T1.1", "WP1", "acme", "prototype")
	if err != nil {
		t.Fatal(err)
	}

	err = admin.Delete(fmt.Sprintf("/partner/%v", partnerId)).Do(nil)
	if StatusCode(err) != http.StatusConflict {
		t.Fatalf("partner with tasks should not be deletable: %v", err)
	}

	if err := admin.Delete(fmt.Sprintf("/task/%v", taskId)).Do(nil); err != nil {
		t.Fatal(err)
	}
	if err := admin.Delete(fmt.Sprintf("/partner/%v", partnerId)).Do(nil); err != nil {
		t.Fatal(err)
	}
}
