package tests

import (
	"fmt"
	"net/http"
	"testing"
)

type assignmentEntry struct {
	Id          string `json:"id"`
	Code        string `json:"code"`
	WorkPackage string `json:"work_package"`
	Partner     string `json:"partner"`

	Description       string `json:"description"`
	PersonResponsible string `json:"person_responsible"`

	Progress            string `json:"progress"`
	Percent             int    `json:"percent"`
	Papers              string `json:"papers"`
	PaperSubmissionDate string `json:"paper_submission_date"`
	PreviousReport      string `json:"previous_report"`
}

func setupAssignments(t *testing.T, admin client) {
	t.Helper()

	if _, err := admin.createWorkPackage("WP1", "Research", ""); err != nil {
		t.Fatal(err)
	}
	if _, err := admin.createWorkPackage("WP2", "Management", ""); err != nil {
		t.Fatal(err)
	}
	if _, err := admin.createPartner("acme", "DE", "research"); err != nil {
		t.Fatal(err)
	}
	if _, err := admin.createPartner("umbrella", "FR", "industry"); err != nil {
		t.Fatal(err)
	}
}

func TestTaskValidation(t *testing.T) {
	env := setupTestEnv(t)

	admin, err := env.adminClient()
	if err != nil {
		t.Fatal(err)
	}
	setupAssignments(t, admin)

	_, err = admin.createTask("T1.1", "WP9", "acme", "prototype")
	if StatusCode(err) != http.StatusUnprocessableEntity {
		t.Fatalf("unknown work package should be rejected: %v", err)
	}

	_, err = admin.createTask("T1.1", "WP1", "nosuchpartner", "prototype")
	if StatusCode(err) != http.StatusUnprocessableEntity {
		t.Fatalf("unknown partner should be rejected: %v", err)
	}

	_, err = admin.createTask("T1.1", "WP1", "ViewAll", "prototype")
	if StatusCode(err) != http.StatusUnprocessableEntity {
		t.Fatalf("sentinel partner cannot own tasks: %v", err)
	}

	body := map[string]interface{}{
		"code": "T1.1", "work_package": "WP1", "partner": "acme",
		"description": "prototype", "month_due": "2026-06-01", "percent": 150,
	}
	err = admin.Post("/task/create").Json(body).Do(nil)
	if StatusCode(err) != http.StatusUnprocessableEntity {
		t.Fatalf("percent outside 0-100 should be rejected: %v", err)
	}

	body["month_due"] = "June 2026"
	body["percent"] = 50
	err = admin.Post("/task/create").Json(body).Do(nil)
	if StatusCode(err) != http.StatusUnprocessableEntity {
		t.Fatalf("unparsable month_due should be rejected: %v", err)
	}

	if _, err := admin.createTask("T1.1", "WP1", "acme", "prototype"); err != nil {
		t.Fatal(err)
	}
	_, err = admin.createTask("T1.1", "WP1", "acme", "prototype")
	if StatusCode(err) != http.StatusConflict {
		t.Fatalf("duplicate task code should conflict: %v", err)
	}
}

func TestTaskReportPermissions(t *testing.T) {
	env := setupTestEnv(t)

	admin, err := env.adminClient()
	if err != nil {
		t.Fatal(err)
	}
	setupAssignments(t, admin)

	acmeTask, err := admin.createTask("T1.1", "WP1", "acme", "prototype")
	if err != nil {
		t.Fatal(err)
	}
	umbrellaTask, err := admin.createTask("T1.2", "WP1", "umbrella", "evaluation")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := admin.createTask("T2.1", "WP2", "umbrella", "report"); err != nil {
		t.Fatal(err)
	}

	partnerLeader, err := env.newUser(admin, "partner_leader")
	if err != nil {
		t.Fatal(err)
	}
	if err := admin.setAccess(partnerLeader.userId, nil, []string{"acme"}); err != nil {
		t.Fatal(err)
	}

	wpLeader, err := env.newUser(admin, "wp_leader")
	if err != nil {
		t.Fatal(err)
	}
	if err := admin.setAccess(wpLeader.userId, []string{"WP1"}, nil); err != nil {
		t.Fatal(err)
	}

	report := map[string]interface{}{
		"person_responsible": "Ada", "progress": "halfway", "percent": 50,
		"papers": "paper draft", "paper_submission_date": "2026-09-01",
	}

	// A partner leader edits their partner's tasks in any work package.
	if err := partnerLeader.Post(fmt.Sprintf("/task/%v/report", acmeTask)).Json(report).Do(nil); err != nil {
		t.Fatal(err)
	}
	err = partnerLeader.Post(fmt.Sprintf("/task/%v/report", umbrellaTask)).Json(report).Do(nil)
	if StatusCode(err) != http.StatusForbidden {
		t.Fatalf("partner leader should not edit another partner's task: %v", err)
	}

	// A work package grant gives visibility over the work package's tasks,
	// never edit rights: those require the owning partner grant.
	err = wpLeader.Post(fmt.Sprintf("/task/%v/report", umbrellaTask)).Json(report).Do(nil)
	if StatusCode(err) != http.StatusForbidden {
		t.Fatalf("work package leader should not edit tasks without the partner grant: %v", err)
	}
	err = wpLeader.Post(fmt.Sprintf("/task/%v/report", acmeTask)).Json(report).Do(nil)
	if StatusCode(err) != http.StatusForbidden {
		t.Fatalf("work package leader should not edit tasks without the partner grant: %v", err)
	}

	var assigned []assignmentEntry
	if err := partnerLeader.Get("/task/assigned").Do(&assigned); err != nil {
		t.Fatal(err)
	}
	if len(assigned) != 1 || assigned[0].Code != "T1.1" {
		t.Fatalf("partner leader should see only acme tasks, got %v", assigned)
	}
	if assigned[0].Progress != "halfway" || assigned[0].Percent != 50 {
		t.Fatalf("report not applied: %v", assigned[0])
	}

	var visible []assignmentEntry
	if err := wpLeader.Get("/task/visible").Do(&visible); err != nil {
		t.Fatal(err)
	}
	if len(visible) != 2 {
		t.Fatalf("wp leader should see all WP1 tasks, got %v", visible)
	}

	// The same partner-grant rule applies to deliverables.
	deliv, err := admin.createDeliverable("D1.1", "WP1", "umbrella", "dataset")
	if err != nil {
		t.Fatal(err)
	}
	err = wpLeader.Post(fmt.Sprintf("/deliverable/%v/report", deliv)).Json(report).Do(nil)
	if StatusCode(err) != http.StatusForbidden {
		t.Fatalf("work package leader should not edit deliverables without the partner grant: %v", err)
	}
	err = partnerLeader.Post(fmt.Sprintf("/deliverable/%v/report", deliv)).Json(report).Do(nil)
	if StatusCode(err) != http.StatusForbidden {
		t.Fatalf("partner leader should not edit another partner's deliverable: %v", err)
	}
}

func TestDeliverableReportArchivesPreviousProgress(t *testing.T) {
	env := setupTestEnv(t)

	admin, err := env.adminClient()
	if err != nil {
		t.Fatal(err)
	}
	setupAssignments(t, admin)

	delivId, err := admin.createDeliverable("D1.1", "WP1", "acme", "dataset")
	if err != nil {
		t.Fatal(err)
	}

	first := map[string]interface{}{
		"person_responsible": "Ada", "progress": "collecting", "percent": 20,
	}
	if err := admin.Post(fmt.Sprintf("/deliverable/%v/report", delivId)).Json(first).Do(nil); err != nil {
		t.Fatal(err)
	}

	second := map[string]interface{}{
		"person_responsible": "Ada", "progress": "cleaning", "percent": 60,
	}
	if err := admin.Post(fmt.Sprintf("/deliverable/%v/report", delivId)).Json(second).Do(nil); err != nil {
		t.Fatal(err)
	}

	var deliverables []assignmentEntry
	if err := admin.Get("/deliverable/list").Do(&deliverables); err != nil {
		t.Fatal(err)
	}
	if len(deliverables) != 1 {
		t.Fatalf("expected one deliverable, got %v", deliverables)
	}
	d := deliverables[0]
	if d.Progress != "cleaning" || d.Percent != 60 {
		t.Fatalf("latest report not applied: %v", d)
	}
	if d.PreviousReport != "collecting" {
		t.Fatalf("previous report should hold the replaced progress, got '%v'", d.PreviousReport)
	}
}

func TestTaskAdminUpdateMovesAssignment(t *testing.T) {
	env := setupTestEnv(t)

	admin, err := env.adminClient()
	if err != nil {
		t.Fatal(err)
	}
	setupAssignments(t, admin)

	taskId, err := admin.createTask("T1.1", "WP1", "acme", "prototype")
	if err != nil {
		t.Fatal(err)
	}

	body := map[string]interface{}{
		"work_package": "WP2", "partner": "umbrella",
		"description": "prototype v2", "progress": "restarted", "percent": 10,
	}
	if err := admin.Post(fmt.Sprintf("/task/%v", taskId)).Json(body).Do(nil); err != nil {
		t.Fatal(err)
	}

	var tasks []assignmentEntry
	if err := admin.Get("/task/list").Do(&tasks); err != nil {
		t.Fatal(err)
	}
	task := tasks[0]
	if task.WorkPackage != "WP2" || task.Partner != "umbrella" || task.Description != "prototype v2" {
		t.Fatalf("admin update not applied: %v", task)
	}

	body["work_package"] = "WP9"
	err = admin.Post(fmt.Sprintf("/task/%v", taskId)).Json(body).Do(nil)
	if StatusCode(err) != http.StatusUnprocessableEntity {
		t.Fatalf("move to unknown work package should be rejected: %v", err)
	}
}
