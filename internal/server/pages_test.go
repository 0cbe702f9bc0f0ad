package server

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"formbridge/internal/model"
)

func TestThanksPage(t *testing.T) {
	f := newFixture(t, true)

	rec := f.do(t, http.MethodGet, "/thanks?next=http%3A%2F%2Fexample.com%2Fcontact", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "http://example.com/contact")
}

func TestThanksPageRejectsUnsafeNext(t *testing.T) {
	f := newFixture(t, true)

	rec := f.do(t, http.MethodGet, "/thanks?next=javascript%3Aalert(1)", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "javascript:")
}

func TestConfirmFormActivates(t *testing.T) {
	f := newFixture(t, true)
	hash := model.FormHash("team@example.com", "example.com", []byte(f.cfg.Service.NonceSecret))
	form := f.createForm(t, &model.Form{
		Email: "team@example.com", Host: strptr("example.com"),
		Hash: &hash, ConfirmSent: true,
	})

	rec := f.do(t, http.MethodGet, "/confirm/"+hash, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "team@example.com")

	require.NoError(t, f.db.First(form, form.ID).Error)
	assert.True(t, form.Confirmed)
}

func TestConfirmFormUnknownNonce(t *testing.T) {
	f := newFixture(t, true)

	rec := f.do(t, http.MethodGet, "/confirm/bogus", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUnconfirmForm(t *testing.T) {
	f := newFixture(t, true)
	form := f.createForm(t, &model.Form{
		Email: "team@example.com", Host: strptr("example.com"),
		Confirmed: true, ConfirmSent: true,
	})
	digest := form.UnconfirmDigest([]byte(f.cfg.Service.NonceSecret))

	rec := f.do(t, http.MethodGet,
		fmt.Sprintf("/unconfirm/%d/%s", form.ID, digest), nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	require.NoError(t, f.db.First(form, form.ID).Error)
	assert.False(t, form.Confirmed)
}

func TestUnconfirmFormBadDigest(t *testing.T) {
	f := newFixture(t, true)
	form := f.createForm(t, &model.Form{
		Email: "team@example.com", Confirmed: true,
	})

	rec := f.do(t, http.MethodGet,
		fmt.Sprintf("/unconfirm/%d/forged", form.ID), nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	require.NoError(t, f.db.First(form, form.ID).Error)
	assert.True(t, form.Confirmed)
}

func TestUnconfirmFormNotFound(t *testing.T) {
	f := newFixture(t, true)

	rec := f.do(t, http.MethodGet, "/unconfirm/999/whatever", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMarkSpamPage(t *testing.T) {
	f := newFixture(t, true)
	form := f.createForm(t, &model.Form{
		Email: "team@example.com", Confirmed: true, Counter: 1,
	})
	sub := model.Submission{
		FormID: form.ID,
		Data:   map[string]string{"message": "buy now"},
		Status: model.SubmissionProcessed,
	}
	require.NoError(t, f.db.Create(&sub).Error)
	digest := sub.SpamDigest([]byte(f.cfg.Service.NonceSecret))

	rec := f.do(t, http.MethodGet,
		fmt.Sprintf("/submissions/%d/spam/%s", sub.ID, digest), nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	require.NoError(t, f.db.First(&sub, sub.ID).Error)
	assert.True(t, sub.IsSpam())
	require.NoError(t, f.db.First(form, form.ID).Error)
	assert.Equal(t, 0, form.Counter)
}

func TestMarkSpamPageBadDigest(t *testing.T) {
	f := newFixture(t, true)
	form := f.createForm(t, &model.Form{Email: "team@example.com", Confirmed: true})
	sub := model.Submission{FormID: form.ID, Data: map[string]string{"x": "y"}}
	require.NoError(t, f.db.Create(&sub).Error)

	rec := f.do(t, http.MethodGet,
		fmt.Sprintf("/submissions/%d/spam/forged", sub.ID), nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	require.NoError(t, f.db.First(&sub, sub.ID).Error)
	assert.False(t, sub.IsSpam())
}
