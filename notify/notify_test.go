package notify

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"gopkg.in/gomail.v2"
)

type mockNotifier struct {
	mock.Mock
}

func (m *mockNotifier) Notify(ctx context.Context, a Alert) error {
	return m.Called(a.Kind).Error(0)
}

type fakeSender struct {
	sent []*gomail.Message
	err  error
}

func (s *fakeSender) DialAndSend(m ...*gomail.Message) error {
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, m...)
	return nil
}

func TestThrottledCooldown(t *testing.T) {
	next := &mockNotifier{}
	next.On("Notify", KindCookieRefresh).Return(nil).Twice()
	next.On("Notify", KindAuthFailures).Return(nil).Once()

	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	th := NewThrottled(next, time.Hour)
	th.now = func() time.Time { return now }

	ctx := context.Background()
	require.NoError(t, th.Notify(ctx, Alert{Kind: KindCookieRefresh}))
	require.NoError(t, th.Notify(ctx, Alert{Kind: KindCookieRefresh}))
	// other kinds are independent
	require.NoError(t, th.Notify(ctx, Alert{Kind: KindAuthFailures}))

	now = now.Add(61 * time.Minute)
	require.NoError(t, th.Notify(ctx, Alert{Kind: KindCookieRefresh}))

	next.AssertExpectations(t)
}

func TestThrottledFailureDoesNotStartCooldown(t *testing.T) {
	next := &mockNotifier{}
	next.On("Notify", KindCookieRefresh).Return(errors.New("smtp down")).Once()
	next.On("Notify", KindCookieRefresh).Return(nil).Once()

	th := NewThrottled(next, time.Hour)
	ctx := context.Background()
	assert.Error(t, th.Notify(ctx, Alert{Kind: KindCookieRefresh}))
	assert.NoError(t, th.Notify(ctx, Alert{Kind: KindCookieRefresh}))
	next.AssertExpectations(t)
}

func TestEmailNotifier(t *testing.T) {
	s := &fakeSender{}
	n := &EmailNotifier{sender: s, from: "media@school.test", to: []string{"ops@school.test"}}

	err := n.Notify(context.Background(), Alert{Kind: KindAuthFailures, Subject: "downloads failing", Body: "3 in a row"})
	require.NoError(t, err)
	require.Len(t, s.sent, 1)
	assert.Equal(t, []string{"[vrschool-media] downloads failing"}, s.sent[0].GetHeader("Subject"))
	assert.Equal(t, []string{"ops@school.test"}, s.sent[0].GetHeader("To"))

	var buf bytes.Buffer
	_, err = s.sent[0].WriteTo(&buf)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "3 in a row")

	s.err = errors.New("connection refused")
	assert.Error(t, n.Notify(context.Background(), Alert{Kind: KindAuthFailures}))

	empty := &EmailNotifier{sender: s}
	assert.Error(t, empty.Notify(context.Background(), Alert{}))
}
