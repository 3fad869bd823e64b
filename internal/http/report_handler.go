package http

import (
	"errors"
	"log/slog"

	"github.com/gofiber/fiber/v2"

	"intelreport/internal/funnel"
	"intelreport/internal/report"
	"intelreport/internal/timeframe"
)

// ReportRunAction runs a report for the :period parameter and returns it in
// the requested format. ?test=true suppresses dispatch and archiving.
func (s *Server) ReportRunAction(c *fiber.Ctx) error {
	period, err := timeframe.ParsePeriod(c.Params("period"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}
	format, err := report.ParseFormat(c.Query("format"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	if !s.running.CompareAndSwap(false, true) {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error": "A report run is already in progress",
		})
	}
	defer s.running.Store(false)

	opts := report.RunOptions{Period: period, Test: c.QueryBool("test", false)}
	res, err := s.opts.Runner.Run(c.UserContext(), opts)
	if err != nil {
		status := statusFor(err)
		if status >= fiber.StatusInternalServerError {
			s.logger.Error("Triggered report run failed",
				slog.String("period", string(period)),
				slog.Any("error", err))
		}
		return c.Status(status).JSON(fiber.Map{"error": err.Error()})
	}

	body, err := report.Encode(res, format)
	if err != nil {
		s.logger.Error("Failed to encode report", slog.Any("error", err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to encode report"})
	}

	c.Set(fiber.HeaderContentType, contentType(format))
	return c.Send(body)
}

func statusFor(err error) int {
	var (
		cfgErr    *report.ConfigurationError
		stageErr  *funnel.ConfigurationError
		accessErr *report.DataAccessError
	)
	switch {
	case errors.As(err, &cfgErr), errors.As(err, &stageErr):
		return fiber.StatusBadRequest
	case errors.Is(err, report.ErrRunTimeout):
		return fiber.StatusGatewayTimeout
	case errors.As(err, &accessErr):
		return fiber.StatusBadGateway
	default:
		return fiber.StatusInternalServerError
	}
}

func contentType(f report.Format) string {
	switch f {
	case report.FormatHTML:
		return fiber.MIMETextHTMLCharsetUTF8
	case report.FormatText:
		return fiber.MIMETextPlainCharsetUTF8
	default:
		return fiber.MIMEApplicationJSONCharsetUTF8
	}
}
