package tests

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"swiftdb/tracker/services"

	"github.com/go-chi/chi/v5"
)

type httpTestRequest struct {
	api http.Handler

	method   string
	endpoint string
	headers  map[string]string
	json     interface{}
	body     io.Reader
	login    *loginInfo
}

func newHttpTestRequest(api http.Handler, method, endpoint string) *httpTestRequest {
	return &httpTestRequest{
		api:      api,
		method:   method,
		endpoint: endpoint,
		headers:  nil,
		json:     nil,
		body:     nil,
	}
}

func (r *httpTestRequest) Header(key, value string) *httpTestRequest {
	if r.headers == nil {
		r.headers = make(map[string]string)
	}
	r.headers[key] = value
	return r
}

func (r *httpTestRequest) Login(username, password string) *httpTestRequest {
	r.login = &loginInfo{Username: username, Password: password}
	return r
}

func (r *httpTestRequest) Auth(token string) *httpTestRequest {
	return r.Header("Authorization", fmt.Sprintf("Bearer %v", token))
}

func (r *httpTestRequest) Json(data interface{}) *httpTestRequest {
	r.json = data
	return r
}

// statusError preserves the response code so that tests can assert on the
// exact failure mode.
type statusError struct {
	code    int
	message string
}

func (e *statusError) Error() string {
	return e.message
}

var ErrUnauthorized = errors.New("unauthorized")

func StatusCode(err error) int {
	var serr *statusError
	if errors.As(err, &serr) {
		return serr.code
	}
	if errors.Is(err, ErrUnauthorized) {
		return http.StatusUnauthorized
	}
	return 0
}

// response body will be parsed into result, passing nil indicates that no result is returned.
func (r *httpTestRequest) Do(result interface{}) error {
	if r.json != nil {
		body := new(bytes.Buffer)
		err := json.NewEncoder(body).Encode(r.json)
		if err != nil {
			return fmt.Errorf("error encoding json body for endpoint %v: %w", r.endpoint, err)
		}
		r.body = body
	}

	req := httptest.NewRequest(r.method, r.endpoint, r.body)
	if r.headers != nil {
		for k, v := range r.headers {
			req.Header.Add(k, v)
		}
	}

	if r.login != nil {
		req.SetBasicAuth(r.login.Username, r.login.Password)
	}

	w := httptest.NewRecorder()

	r.api.ServeHTTP(w, req)

	res := w.Result()
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		if res.StatusCode == http.StatusUnauthorized {
			return ErrUnauthorized
		}
		return &statusError{
			code:    res.StatusCode,
			message: fmt.Sprintf("%v request to endpoint %v returned status %d, content '%v'", r.method, r.endpoint, res.StatusCode, w.Body.String()),
		}
	}

	if result != nil {
		err := json.NewDecoder(res.Body).Decode(result)
		if err != nil {
			return fmt.Errorf("error parsing %v response from endpoint %v: %w", r.method, r.endpoint, err)
		}
	}

	return nil
}

type client struct {
	api       chi.Router
	authToken string
	userId    string
}

func (c *client) Get(endpoint string) *httpTestRequest {
	r := newHttpTestRequest(c.api, "GET", endpoint)
	if c.authToken != "" {
		return r.Auth(c.authToken)
	}
	return r
}

func (c *client) Post(endpoint string) *httpTestRequest {
	r := newHttpTestRequest(c.api, "POST", endpoint)
	if c.authToken != "" {
		return r.Auth(c.authToken)
	}
	return r
}

func (c *client) Delete(endpoint string) *httpTestRequest {
	r := newHttpTestRequest(c.api, "DELETE", endpoint)
	if c.authToken != "" {
		return r.Auth(c.authToken)
	}
	return r
}

type loginInfo struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (c *client) login(login loginInfo) error {
	var res map[string]string
	err := c.Get("/user/login").Login(login.Username, login.Password).Do(&res)
	if err != nil {
		return err
	}

	c.authToken = res["access_token"]
	c.userId = res["user_id"]

	return nil
}

func (c *client) addUser(username, password string) (loginInfo, error) {
	body := map[string]string{"username": username, "password": password}

	err := c.Post("/user/create").Json(body).Do(nil)
	if err != nil {
		return loginInfo{}, err
	}

	return loginInfo{Username: username, Password: password}, nil
}

func (c *client) userInfo() (services.UserInfo, error) {
	var info services.UserInfo
	err := c.Get("/user/info").Do(&info)
	return info, err
}

func (c *client) setAccess(userId string, workPackages, partners []string) error {
	body := map[string][]string{
		"work_packages": workPackages,
		"partners":      partners,
	}
	return c.Post(fmt.Sprintf("/access/%v", userId)).Json(body).Do(nil)
}

func (c *client) createPartner(name, country, role string) (string, error) {
	body := map[string]string{"name": name, "country": country, "role": role}

	var res map[string]string
	if err := c.Post("/partner/create").Json(body).Do(&res); err != nil {
		return "", err
	}
	return res["partner_id"], nil
}

func (c *client) createWorkPackage(code, name, status string) (string, error) {
	body := map[string]string{"code": code, "name": name, "status": status}

	var res map[string]string
	if err := c.Post("/workpackage/create").Json(body).Do(&res); err != nil {
		return "", err
	}
	return res["workpackage_id"], nil
}

func (c *client) createTask(code, workPackage, partner, description string) (string, error) {
	body := map[string]interface{}{
		"code": code, "work_package": workPackage, "partner": partner,
		"description": description, "month_due": "2026-06-01",
	}

	var res map[string]string
	if err := c.Post("/task/create").Json(body).Do(&res); err != nil {
		return "", err
	}
	return res["id"], nil
}

func (c *client) createDeliverable(code, workPackage, partner, description string) (string, error) {
	body := map[string]interface{}{
		"code": code, "work_package": workPackage, "partner": partner,
		"description": description, "month_due": "2026-06-01",
	}

	var res map[string]string
	if err := c.Post("/deliverable/create").Json(body).Do(&res); err != nil {
		return "", err
	}
	return res["id"], nil
}
