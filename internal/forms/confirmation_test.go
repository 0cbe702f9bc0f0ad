package forms

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"formbridge/internal/model"
)

func TestSendConfirmation(t *testing.T) {
	ctx := context.Background()
	svc, sender, _ := newTestService(t)

	form, err := svc.Resolve("bob@example.com", "example.com/contact", false)
	require.NoError(t, err)

	result := svc.SendConfirmation(ctx, form, nil, nil)
	assert.Equal(t, StatusConfirmationSent, result.Code)
	assert.True(t, form.ConfirmSent)

	messages := sender.sent()
	require.Len(t, messages, 1)
	assert.Equal(t, "bob@example.com", messages[0].To)
	assert.Contains(t, messages[0].Subject, "Activate")
	assert.Contains(t, messages[0].Text, svc.ConfirmURL(*form.Hash))
	assert.Contains(t, messages[0].Headers, "List-Unsubscribe")

	// sending again is a no-op
	result = svc.SendConfirmation(ctx, form, nil, nil)
	assert.Equal(t, StatusConfirmationDuplicated, result.Code)
	assert.Len(t, sender.sent(), 1)
}

func TestSendConfirmationTransportFailure(t *testing.T) {
	ctx := context.Background()
	svc, sender, _ := newTestService(t)
	sender.fail = true

	form, err := svc.Resolve("bob@example.com", "example.com/contact", false)
	require.NoError(t, err)

	result := svc.SendConfirmation(ctx, form, nil, nil)
	assert.Equal(t, StatusConfirmationFailed, result.Code)
	assert.False(t, form.ConfirmSent)
}

func TestConfirmActivatesForm(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t)

	form, err := svc.Resolve("bob@example.com", "example.com/contact", false)
	require.NoError(t, err)
	require.False(t, form.Confirmed)

	confirmed, err := svc.Confirm(ctx, *form.Hash)
	assert.NoError(t, err)
	assert.Equal(t, form.ID, confirmed.ID)
	assert.True(t, confirmed.Confirmed)

	var stored model.Form
	require.NoError(t, svc.DB().First(&stored, form.ID).Error)
	assert.True(t, stored.Confirmed)

	_, err = svc.Confirm(ctx, "unknown-nonce")
	assert.ErrorIs(t, err, ErrUnknownForm)
}

func TestConfirmReplaysFirstSubmission(t *testing.T) {
	ctx := context.Background()
	svc, _, queue := newTestService(t)

	form, err := svc.Resolve("bob@example.com", "example.com/contact", false)
	require.NoError(t, err)

	data := map[string]string{"name": "Alice", "message": "hello"}
	keys := []string{"name", "message"}
	result := svc.SendConfirmation(ctx, form, data, keys)
	require.Equal(t, StatusConfirmationSent, result.Code)
	require.Empty(t, queue.queued())

	_, err = svc.Confirm(ctx, *form.Hash)
	assert.NoError(t, err)

	// the cached payload was stored and queued after activation
	jobs := queue.queued()
	require.Len(t, jobs, 1)
	var sub model.Submission
	require.NoError(t, svc.DB().First(&sub, jobs[0].SubmissionID).Error)
	assert.Equal(t, "hello", sub.Data["message"])

	// the cache is single-use
	_, err = svc.Confirm(ctx, *form.Hash)
	assert.NoError(t, err)
	assert.Len(t, queue.queued(), 1)
}

func TestUnconfirm(t *testing.T) {
	svc, _, _ := newTestService(t)
	form := createForm(t, svc, &model.Form{Email: "bob@example.com", Confirmed: true})

	ok, err := svc.Unconfirm(form, "forged-digest")
	assert.NoError(t, err)
	assert.False(t, ok)
	assert.True(t, form.Confirmed)

	digest := form.UnconfirmDigest([]byte("test-nonce-secret"))
	ok, err = svc.Unconfirm(form, digest)
	assert.NoError(t, err)
	assert.True(t, ok)
	assert.False(t, form.Confirmed)
}
