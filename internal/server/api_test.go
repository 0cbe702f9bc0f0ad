package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"formbridge/internal/model"
)

const testAPIKey = "0123456789abcdef0123456789abcdef"

// apiForm creates a confirmed form with an API key and returns it
// together with its public hashid
func apiForm(t *testing.T, f *fixture) (*model.Form, string) {
	t.Helper()
	form := f.createForm(t, &model.Form{
		Email: "team@example.com", Host: strptr("example.com"),
		Confirmed: true, APIKey: strptr(testAPIKey),
	})
	return form, f.forms.Hashid(form)
}

func withBearer(key string) reqOption {
	return withHeader("Authorization", "Bearer "+key)
}

func (f *fixture) apiJSON(t *testing.T, method, path, key, body string) *httptest.ResponseRecorder {
	t.Helper()
	return f.do(t, method, path, strings.NewReader(body),
		withBearer(key), withHeader("Content-Type", "application/json"))
}

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestFormControlAuth(t *testing.T) {
	f := newFixture(t, true)
	form, hashid := apiForm(t, f)

	// unknown form
	rec := f.do(t, http.MethodGet, "/api/v1/forms/nosuchid", nil, withBearer(testAPIKey))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// missing and wrong keys
	rec = f.do(t, http.MethodGet, "/api/v1/forms/"+hashid, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	rec = f.do(t, http.MethodGet, "/api/v1/forms/"+hashid, nil, withBearer("wrong"))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// the read-only key reads but can't write
	readonly := form.APIKeyReadonly()
	rec = f.do(t, http.MethodGet, "/api/v1/forms/"+hashid, nil, withBearer(readonly))
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = f.do(t, http.MethodPost, "/api/v1/forms/"+hashid+"/reset-apikey", nil,
		withBearer(readonly))
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestGetForm(t *testing.T) {
	f := newFixture(t, true)
	form, hashid := apiForm(t, f)
	_, err := f.ledger.Increment(context.Background(), form.ID)
	require.NoError(t, err)

	rec := f.do(t, http.MethodGet, "/api/v1/forms/"+hashid, nil, withBearer(testAPIKey))
	assert.Equal(t, http.StatusOK, rec.Code)

	body := decodeJSON(t, rec)
	assert.Equal(t, hashid, body["hashid"])
	assert.Equal(t, "team@example.com", body["email"])
	assert.Equal(t, float64(1), body["monthly_counter"])
	assert.Equal(t, form.APIKeyReadonly(), body["apikey_readonly"])
	assert.NotContains(t, body, "apikey")
}

func TestResetAPIKeyEndpoint(t *testing.T) {
	f := newFixture(t, true)
	_, hashid := apiForm(t, f)

	rec := f.do(t, http.MethodPost, "/api/v1/forms/"+hashid+"/reset-apikey", nil,
		withBearer(testAPIKey))
	assert.Equal(t, http.StatusOK, rec.Code)

	body := decodeJSON(t, rec)
	newKey, ok := body["apikey"].(string)
	require.True(t, ok)
	assert.Len(t, newKey, 32)
	assert.NotEqual(t, testAPIKey, newKey)

	// the old key no longer authenticates
	rec = f.do(t, http.MethodGet, "/api/v1/forms/"+hashid, nil, withBearer(testAPIKey))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	rec = f.do(t, http.MethodGet, "/api/v1/forms/"+hashid, nil, withBearer(newKey))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSubmissionsAPI(t *testing.T) {
	f := newFixture(t, true)
	form, hashid := apiForm(t, f)

	var ids []uint
	for i := 0; i < 3; i++ {
		sub := model.Submission{
			FormID: form.ID,
			Data:   map[string]string{"message": fmt.Sprintf("msg %d", i)},
			Status: model.SubmissionProcessed,
		}
		require.NoError(t, f.db.Create(&sub).Error)
		ids = append(ids, sub.ID)
	}
	require.NoError(t, f.db.Model(form).Update("counter", 3).Error)

	rec := f.do(t, http.MethodGet, "/api/v1/forms/"+hashid+"/submissions", nil,
		withBearer(testAPIKey))
	assert.Equal(t, http.StatusOK, rec.Code)
	body := decodeJSON(t, rec)
	assert.Len(t, body["submissions"], 3)
	assert.Contains(t, body["fields"], "message")

	// flag one as spam; the lifetime counter follows
	rec = f.apiJSON(t, http.MethodPatch, "/api/v1/forms/"+hashid+"/submissions",
		testAPIKey, fmt.Sprintf(`{"ids":[%d],"spam":true}`, ids[0]))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(2), decodeJSON(t, rec)["counter"])

	rec = f.do(t, http.MethodGet, "/api/v1/forms/"+hashid+"/submissions?filter=spam", nil,
		withBearer(testAPIKey))
	assert.Len(t, decodeJSON(t, rec)["submissions"], 1)

	// delete the rest
	rec = f.apiJSON(t, http.MethodDelete, "/api/v1/forms/"+hashid+"/submissions",
		testAPIKey, fmt.Sprintf(`{"ids":[%d,%d]}`, ids[1], ids[2]))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(0), decodeJSON(t, rec)["counter"])

	var remaining int64
	f.db.Model(&model.Submission{}).Where("form_id = ?", form.ID).Count(&remaining)
	assert.Equal(t, int64(1), remaining)
}

func TestSubmissionsAPIBadPayload(t *testing.T) {
	f := newFixture(t, true)
	_, hashid := apiForm(t, f)

	rec := f.apiJSON(t, http.MethodPatch, "/api/v1/forms/"+hashid+"/submissions",
		testAPIKey, `{"ids":[1]}`) // spam flag missing
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// rulesForm attaches a platinum owner with a verified sales@ address
func rulesForm(t *testing.T, f *fixture) string {
	t.Helper()
	owner := model.Account{Email: "team@example.com", Plan: "v1_platinum"}
	require.NoError(t, f.db.Create(&owner).Error)
	require.NoError(t, f.db.Create(&model.VerifiedEmail{
		AccountID: owner.ID, Address: "sales@example.com",
	}).Error)
	form := f.createForm(t, &model.Form{
		Email: "team@example.com", Confirmed: true,
		APIKey: strptr(testAPIKey), OwnerID: &owner.ID,
	})
	return f.forms.Hashid(form)
}

func TestRulesAPI(t *testing.T) {
	f := newFixture(t, true)
	hashid := rulesForm(t, f)
	base := "/api/v1/forms/" + hashid + "/rules"

	rec := f.apiJSON(t, http.MethodPost, base, testAPIKey,
		`{"email":"sales@example.com","trigger":{"fn":"contains","field":"department","params":["sales"]}}`)
	assert.Equal(t, http.StatusCreated, rec.Code)
	ruleID, ok := decodeJSON(t, rec)["id"].(string)
	require.True(t, ok)

	rec = f.do(t, http.MethodGet, base, nil, withBearer(testAPIKey))
	assert.Equal(t, http.StatusOK, rec.Code)
	var rules []map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rules))
	assert.Len(t, rules, 1)

	rec = f.apiJSON(t, http.MethodPut, base+"/"+ruleID, testAPIKey,
		`{"email":"sales@example.com","trigger":{"fn":"true"}}`)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.apiJSON(t, http.MethodDelete, base+"/"+ruleID, testAPIKey, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = f.apiJSON(t, http.MethodDelete, base+"/"+ruleID, testAPIKey, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRulesAPIValidation(t *testing.T) {
	f := newFixture(t, true)
	hashid := rulesForm(t, f)
	base := "/api/v1/forms/" + hashid + "/rules"

	rec := f.apiJSON(t, http.MethodPost, base, testAPIKey,
		`{"email":"sales@example.com","trigger":{"fn":"equals","field":"x"}}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid_trigger")

	rec = f.apiJSON(t, http.MethodPost, base, testAPIKey,
		`{"email":"stranger@elsewhere.com","trigger":{"fn":"true"}}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "unverified_recipient")
}

func TestPluginsAPIWebhook(t *testing.T) {
	echo := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Hook-Secret", r.Header.Get("X-Hook-Secret"))
	}))
	defer echo.Close()

	f := newFixture(t, true)
	_, hashid := apiForm(t, f)
	base := "/api/v1/forms/" + hashid + "/plugins"

	rec := f.apiJSON(t, http.MethodPost, base+"/webhook", testAPIKey,
		fmt.Sprintf(`{"target_url":%q}`, echo.URL))
	assert.Equal(t, http.StatusCreated, rec.Code)

	rec = f.do(t, http.MethodGet, base, nil, withBearer(testAPIKey))
	assert.Equal(t, http.StatusOK, rec.Code)
	var list []map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list, 1)
	assert.Equal(t, "webhook", list[0]["kind"])
	assert.NotContains(t, list[0], "access_token")

	// toggle off, then remove
	rec = f.apiJSON(t, http.MethodPatch, base+"/webhook", testAPIKey, `{"enabled":false}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = f.apiJSON(t, http.MethodDelete, base+"/webhook", testAPIKey, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = f.apiJSON(t, http.MethodDelete, base+"/webhook", testAPIKey, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPluginsAPIWebhookProbeFailure(t *testing.T) {
	deaf := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK) // never echoes the secret
	}))
	defer deaf.Close()

	f := newFixture(t, true)
	_, hashid := apiForm(t, f)

	rec := f.apiJSON(t, http.MethodPost, "/api/v1/forms/"+hashid+"/plugins/webhook",
		testAPIKey, fmt.Sprintf(`{"target_url":%q}`, deaf.URL))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), `"ok":false`)

	var count int64
	f.db.Model(&model.Plugin{}).Count(&count)
	assert.Zero(t, count)
}

func TestPluginsAPITrelloLifecycle(t *testing.T) {
	f := newFixture(t, true)
	form, hashid := apiForm(t, f)
	base := "/api/v1/forms/" + hashid + "/plugins"

	rec := f.apiJSON(t, http.MethodPost, base+"/trello", testAPIKey,
		`{"token":"trello-token"}`)
	assert.Equal(t, http.StatusCreated, rec.Code)

	var plugin model.Plugin
	require.NoError(t, f.db.Where("form_id = ? AND kind = ?",
		form.ID, model.PluginTrello).First(&plugin).Error)
	assert.False(t, plugin.Enabled)

	// picking a board and list enables it
	rec = f.apiJSON(t, http.MethodPut, base+"/trello", testAPIKey,
		`{"board_id":"board1","list_id":"list1"}`)
	assert.Equal(t, http.StatusOK, rec.Code)

	require.NoError(t, f.db.First(&plugin, plugin.ID).Error)
	assert.True(t, plugin.Enabled)
	assert.Equal(t, "list1", plugin.DataString("list_id"))
}

func TestPluginsAPIMailchimpNeedsConnection(t *testing.T) {
	f := newFixture(t, true)
	_, hashid := apiForm(t, f)

	rec := f.apiJSON(t, http.MethodPut, "/api/v1/forms/"+hashid+"/plugins/mailchimp",
		testAPIKey, `{"list_id":"aud1"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPluginsAPIUnknownKind(t *testing.T) {
	f := newFixture(t, true)
	_, hashid := apiForm(t, f)

	rec := f.apiJSON(t, http.MethodPatch, "/api/v1/forms/"+hashid+"/plugins/telegram",
		testAPIKey, `{"enabled":true}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid_kind")
}

func TestSetTemplate(t *testing.T) {
	f := newFixture(t, true)
	form, hashid := apiForm(t, f)
	path := "/api/v1/forms/" + hashid + "/whitelabel"

	rec := f.apiJSON(t, http.MethodPut, path, testAPIKey,
		`{"subject":"Message from {{name}}","from_name":"Acme","body":"{{message}}"}`)
	assert.Equal(t, http.StatusOK, rec.Code)

	// a second put replaces the template instead of adding a row
	rec = f.apiJSON(t, http.MethodPut, path, testAPIKey,
		`{"subject":"Updated","body":"{{message}}"}`)
	assert.Equal(t, http.StatusOK, rec.Code)

	var templates []model.EmailTemplate
	require.NoError(t, f.db.Where("form_id = ?", form.ID).Find(&templates).Error)
	require.Len(t, templates, 1)
	assert.Equal(t, "Updated", templates[0].Subject)
}
