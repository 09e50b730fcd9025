package controller

import (
	"errors"
	"testing"

	"leadflow/models"
	"leadflow/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// flakyProvider fails every second send.
type flakyProvider struct {
	calls int
}

func (p *flakyProvider) FetchMessages(folder string, opts utils.FetchOptions) ([]utils.RawMessage, error) {
	return nil, nil
}

func (p *flakyProvider) SendMessage(msg utils.OutgoingMessage) error {
	p.calls++
	if p.calls%2 == 0 {
		return errors.New("smtp temporary failure")
	}
	return nil
}

func newSendTestApp(t *testing.T, db *gorm.DB, user *models.User, provider utils.MailProvider) *fiber.App {
	t.Helper()
	sc := NewSendController(db, testLogger())
	sc.providerFor = func(*models.User) (utils.MailProvider, error) {
		return provider, nil
	}

	app := fiber.New()
	app.Use(withUser(user))
	app.Post("/api/v1/messages/send", sc.SendMessage)
	app.Post("/api/v1/campaigns/send", sc.SendCampaign)
	return app
}

func TestSendMessageWithTemplate(t *testing.T) {
	db := newTestDB(t)
	user := createTestUser(t, db, models.RoleSales)

	template := models.Template{
		UserID:  user.ID,
		Name:    "Intro",
		Subject: "Hi {{firstName}}",
		Body:    "From {{company}}",
	}
	require.NoError(t, db.Create(&template).Error)

	dataset := models.Dataset{UserID: user.ID, Name: "Q1"}
	require.NoError(t, db.Create(&dataset).Error)
	contact := models.Contact{
		DatasetID: dataset.ID, UserID: user.ID,
		Name: "Jane Doe", Email: "jane@acme.com", Company: "Acme",
	}
	require.NoError(t, db.Create(&contact).Error)

	provider := &stubProvider{}
	app := newSendTestApp(t, db, user, provider)

	resp, err := app.Test(jsonRequest(t, "POST", "/api/v1/messages/send", fiber.Map{
		"to":          []string{"jane@acme.com"},
		"template_id": template.ID,
		"contact_id":  contact.ID,
	}))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusCreated, resp.StatusCode)

	require.Len(t, provider.outgoing, 1)
	assert.Equal(t, "Hi Jane", provider.outgoing[0].Subject)

	var msg models.SentMessage
	require.NoError(t, db.First(&msg).Error)
	assert.Equal(t, models.MessageStatusSent, msg.Status)
	assert.NotNil(t, msg.SentAt)

	// Sending marks the template used.
	require.NoError(t, db.First(&template, template.ID).Error)
	assert.NotNil(t, template.LastUsedAt)
}

func TestSendMessageFailureRecordedAsFailed(t *testing.T) {
	db := newTestDB(t)
	user := createTestUser(t, db, models.RoleSales)
	provider := &stubProvider{sendErr: errors.New("smtp rejected")}
	app := newSendTestApp(t, db, user, provider)

	resp, err := app.Test(jsonRequest(t, "POST", "/api/v1/messages/send", fiber.Map{
		"to":      []string{"jane@acme.com"},
		"subject": "Hello",
		"body":    "Hi there",
	}))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusBadGateway, resp.StatusCode)

	var msg models.SentMessage
	require.NoError(t, db.First(&msg).Error)
	assert.Equal(t, models.MessageStatusFailed, msg.Status)
}

func TestSendCampaignContinuesPastFailures(t *testing.T) {
	db := newTestDB(t)
	user := createTestUser(t, db, models.RoleSales)

	template := models.Template{UserID: user.ID, Name: "Intro", Subject: "Hi {{firstName}}"}
	require.NoError(t, db.Create(&template).Error)

	dataset := models.Dataset{UserID: user.ID, Name: "Q1"}
	require.NoError(t, db.Create(&dataset).Error)
	for _, email := range []string{"a@x.com", "b@x.com", "c@x.com", "d@x.com"} {
		require.NoError(t, db.Create(&models.Contact{
			DatasetID: dataset.ID, UserID: user.ID, Email: email, Name: "Rep Test",
		}).Error)
	}

	app := newSendTestApp(t, db, user, &flakyProvider{})
	resp, err := app.Test(jsonRequest(t, "POST", "/api/v1/campaigns/send", fiber.Map{
		"dataset_id":  dataset.ID,
		"template_id": template.ID,
	}))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	body := decodeBody(t, resp)
	assert.EqualValues(t, 2, body["sent"])
	assert.EqualValues(t, 2, body["failed"])
	assert.EqualValues(t, 4, body["total"])

	var failed int64
	db.Model(&models.SentMessage{}).Where("status = ?", models.MessageStatusFailed).Count(&failed)
	assert.EqualValues(t, 2, failed)
}
