package middleware

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"

	"github.com/labstack/echo/v4"
)

// twilioParamsKey is the echo.Context key the parsed webhook form
// body is stashed under, since the middleware consumes the request
// body to compute the signature and handlers must read form values
// from here instead of c.FormValue.
const twilioParamsKey = "twilioParams"

// TwilioParams returns the form parameters TwilioAuth already parsed
// for this request.
func TwilioParams(c echo.Context) map[string]string {
	v, _ := c.Get(twilioParamsKey).(map[string]string)
	return v
}

// validateTwilioSignature verifies Twilio request signatures.
func validateTwilioSignature(authToken, signature, fullURL string, params map[string]string) bool {
	if authToken == "" || signature == "" {
		return false
	}

	data := fullURL
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		data += k + params[k]
	}

	mac := hmac.New(sha1.New, []byte(authToken))
	mac.Write([]byte(data))
	expectedSignature := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(signature), []byte(expectedSignature))
}

// TwilioAuth validates a Twilio webhook request's signature. Applied
// per-route (incoming-call, call-status) rather than as a blanket
// prefix match, since this gateway's other routes (healthz, the media
// websocket, the cache pull URL) are not Twilio form-encoded webhooks.
// publicURL, when non-empty, overrides the scheme+host Twilio signed
// against — needed when the process sits behind a tunnel or reverse
// proxy that the request's own Host header doesn't reflect.
func TwilioAuth(getAuthToken func() string, publicURL string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			authToken := getAuthToken()
			if authToken == "" {
				return c.String(http.StatusInternalServerError, "TWILIO_AUTH_TOKEN not configured")
			}

			bodyBytes, err := io.ReadAll(c.Request().Body)
			if err != nil {
				return c.String(http.StatusBadRequest, "Failed to read request body")
			}

			formData, err := url.ParseQuery(string(bodyBytes))
			if err != nil {
				return c.String(http.StatusBadRequest, "Failed to parse form data")
			}

			params := make(map[string]string)
			for key, values := range formData {
				if len(values) > 0 {
					params[key] = values[0]
				}
			}

			signature := c.Request().Header.Get("X-Twilio-Signature")
			requestURL := publicURL + c.Request().URL.Path
			if publicURL == "" {
				requestURL = fmt.Sprintf("https://%s%s", c.Request().Host, c.Request().URL.Path)
			}

			if !validateTwilioSignature(authToken, signature, requestURL, params) {
				return c.String(http.StatusUnauthorized, "Invalid Twilio signature")
			}

			c.Set(twilioParamsKey, params)
			return next(c)
		}
	}
}
