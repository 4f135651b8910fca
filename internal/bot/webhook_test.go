package bot

import (
	"errors"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingWebhookAPI struct {
	endpoint string
	params   tgbotapi.Params
	err      error
}

func (a *recordingWebhookAPI) MakeRequest(endpoint string, params tgbotapi.Params) (*tgbotapi.APIResponse, error) {
	a.endpoint = endpoint
	a.params = params
	if a.err != nil {
		return nil, a.err
	}
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func TestSetWebhook(t *testing.T) {
	api := &recordingWebhookAPI{}

	require.NoError(t, SetWebhook(api, "https://bot.example.com/telegram/webhook", "s3cret"))

	assert.Equal(t, "setWebhook", api.endpoint)
	assert.Equal(t, "https://bot.example.com/telegram/webhook", api.params["url"])
	assert.Equal(t, "s3cret", api.params["secret_token"])
}

func TestSetWebhook_NoSecret(t *testing.T) {
	api := &recordingWebhookAPI{}

	require.NoError(t, SetWebhook(api, "https://bot.example.com/hook", ""))

	_, ok := api.params["secret_token"]
	assert.False(t, ok)
}

func TestDeleteWebhook(t *testing.T) {
	api := &recordingWebhookAPI{err: errors.New("unauthorized")}

	err := DeleteWebhook(api)

	require.Error(t, err)
	assert.Equal(t, "deleteWebhook", api.endpoint)
	assert.Contains(t, err.Error(), "unauthorized")
}
