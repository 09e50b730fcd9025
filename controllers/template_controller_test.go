package controller

import (
	"testing"

	"leadflow/models"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newTemplateTestApp(t *testing.T, db *gorm.DB, user *models.User) *fiber.App {
	t.Helper()
	tc := NewTemplateController(db, testLogger())

	app := fiber.New()
	app.Use(withUser(user))
	app.Post("/api/v1/templates", tc.CreateTemplate)
	app.Get("/api/v1/templates/:id", tc.GetTemplate)
	app.Put("/api/v1/templates/:id", tc.UpdateTemplate)
	app.Delete("/api/v1/templates/:id", tc.DeleteTemplate)
	app.Post("/api/v1/templates/:id/preview", tc.PreviewTemplate)
	return app
}

func TestCreateTemplateExtractsVariables(t *testing.T) {
	db := newTestDB(t)
	user := createTestUser(t, db, models.RoleSales)
	app := newTemplateTestApp(t, db, user)

	resp, err := app.Test(jsonRequest(t, "POST", "/api/v1/templates", fiber.Map{
		"name":    "Intro",
		"subject": "Hi {{firstName}}, re {{company}}",
		"body":    "Dear {{firstName}}, I saw that {{company}} is growing.",
	}))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusCreated, resp.StatusCode)

	body := decodeBody(t, resp)
	variables := body["variables"].([]interface{})
	assert.Equal(t, []interface{}{"firstName", "company"}, variables)

	var template models.Template
	require.NoError(t, db.First(&template).Error)
	assert.Equal(t, []string{"firstName", "company"}, template.VariableNames())
}

func TestCreateTemplateRequiresSubject(t *testing.T) {
	db := newTestDB(t)
	user := createTestUser(t, db, models.RoleSales)
	app := newTemplateTestApp(t, db, user)

	resp, err := app.Test(jsonRequest(t, "POST", "/api/v1/templates", fiber.Map{
		"name": "Broken",
	}))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestPreviewTemplate(t *testing.T) {
	db := newTestDB(t)
	user := createTestUser(t, db, models.RoleSales)

	template := models.Template{
		UserID:  user.ID,
		Name:    "Intro",
		Subject: "Hi {{firstName}}, re {{company}}",
		Body:    "Your plan: {{plan}}",
	}
	require.NoError(t, db.Create(&template).Error)

	dataset := models.Dataset{UserID: user.ID, Name: "Q1 prospects"}
	require.NoError(t, db.Create(&dataset).Error)

	contact := models.Contact{
		DatasetID: dataset.ID,
		UserID:    user.ID,
		Name:      "Jane Doe",
		Email:     "jane@acme.com",
		Company:   "Acme",
	}
	require.NoError(t, db.Create(&contact).Error)
	require.NoError(t, db.Create(&models.ContactCustomField{
		ContactID: contact.ID,
		Name:      "plan",
		Value:     "enterprise",
	}).Error)

	app := newTemplateTestApp(t, db, user)
	resp, err := app.Test(jsonRequest(t, "POST", "/api/v1/templates/1/preview", fiber.Map{
		"contact_id": contact.ID,
	}))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	body := decodeBody(t, resp)
	assert.Equal(t, "Hi Jane, re Acme", body["subject"])
	assert.Equal(t, "Your plan: enterprise", body["body"])
}

func TestDeleteTemplateNullifiesSentMessages(t *testing.T) {
	db := newTestDB(t)
	user := createTestUser(t, db, models.RoleSales)

	template := models.Template{UserID: user.ID, Name: "Intro", Subject: "Hi"}
	require.NoError(t, db.Create(&template).Error)

	msg := models.SentMessage{
		UserID:         user.ID,
		TemplateID:     &template.ID,
		RecipientEmail: "a@x.com",
		Status:         models.MessageStatusSent,
		LeadStatus:     models.LeadStatusUnassigned,
	}
	require.NoError(t, db.Create(&msg).Error)

	app := newTemplateTestApp(t, db, user)
	resp, err := app.Test(jsonRequest(t, "DELETE", "/api/v1/templates/1", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusNoContent, resp.StatusCode)

	// The message row survives with the template reference nulled.
	require.NoError(t, db.First(&msg, msg.ID).Error)
	assert.Nil(t, msg.TemplateID)
}
