package validation

import (
	"strings"
	"unicode/utf8"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/contract-intel/backend/pkg/logger"
)

type Config struct {
	MaxQuestionLength   int
	AllowedContentTypes []string
	// QuestionRoutes maps a path to where its question lives: "body" for a
	// JSON field, "query" for a query parameter.
	QuestionRoutes map[string]string
	// OnReject runs once for every request the middleware turns away.
	OnReject func()
}

func Middleware(cfg Config) fiber.Handler {
	if cfg.MaxQuestionLength == 0 {
		cfg.MaxQuestionLength = 4000
	}
	if len(cfg.AllowedContentTypes) == 0 {
		cfg.AllowedContentTypes = []string{fiber.MIMEApplicationJSON, fiber.MIMEMultipartForm}
	}
	if cfg.OnReject == nil {
		cfg.OnReject = func() {}
	}
	log := logger.Named("validation")

	return func(c *fiber.Ctx) error {
		if c.Method() == fiber.MethodPost || c.Method() == fiber.MethodPut {
			if ct := c.Get(fiber.HeaderContentType); ct != "" && !allowed(ct, cfg.AllowedContentTypes) {
				cfg.OnReject()
				return c.Status(fiber.StatusUnsupportedMediaType).JSON(fiber.Map{
					"error": "Unsupported content type",
					"kind":  "invalid_input",
				})
			}
		}

		source, ok := cfg.QuestionRoutes[c.Path()]
		if !ok {
			return c.Next()
		}

		question, present := questionOf(c, source)
		if !present {
			return c.Next()
		}

		if utf8.RuneCountInString(question) > cfg.MaxQuestionLength {
			cfg.OnReject()
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Question exceeds maximum length",
				"kind":  "invalid_input",
			})
		}
		if strings.ContainsRune(question, 0) {
			log.Warn("Rejected question with NUL byte", zap.String("ip", c.IP()), zap.String("path", c.Path()))
			cfg.OnReject()
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Invalid question content",
				"kind":  "invalid_input",
			})
		}

		return c.Next()
	}
}

// questionOf leaves malformed bodies to the handler, which reports them with
// the request's own error shape.
func questionOf(c *fiber.Ctx, source string) (string, bool) {
	if source == "query" {
		q := c.Query("question")
		return q, q != ""
	}

	var body struct {
		Question string `json:"question"`
	}
	if err := c.BodyParser(&body); err != nil {
		return "", false
	}
	return body.Question, body.Question != ""
}

func allowed(contentType string, types []string) bool {
	for _, t := range types {
		if strings.HasPrefix(strings.ToLower(contentType), t) {
			return true
		}
	}
	return false
}
