package api

import (
	"bytes"
	"context"
	"image/jpeg"
	"net/http"
	"strconv"

	"github.com/danielgtaylor/huma/v2"

	"github.com/smazurov/framegrabber/internal/api/models"
	"github.com/smazurov/framegrabber/internal/grabber"
)

// defaultPreviewQuality is used when the request does not set quality.
const defaultPreviewQuality = 75

func (s *Server) registerPreviewRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "get-preview",
		Method:      http.MethodGet,
		Path:        "/api/preview",
		Summary:     "Preview",
		Description: "Latest captured frame as JPEG, after color conversion",
		Tags:        []string{"camera"},
		Security:    withAuth(),
		Errors:      []int{401, 404, 500, 503},
		Responses: map[string]*huma.Response{
			"200": {
				Description: "JPEG image",
				Content:     map[string]*huma.MediaType{"image/jpeg": {}},
			},
		},
	}, func(_ context.Context, input *models.PreviewInput) (*models.PreviewResponse, error) {
		if s.opts.Preview == nil {
			return nil, huma.Error404NotFound("Preview is not enabled")
		}

		img, _, seq := s.opts.Preview.Frame()
		if img == nil {
			return nil, huma.Error503ServiceUnavailable("No frame captured yet")
		}

		quality := input.Quality
		if quality == 0 {
			quality = defaultPreviewQuality
		}

		var buf bytes.Buffer
		if err := jpeg.Encode(&buf, grabber.Scale(img, input.Width), &jpeg.Options{Quality: quality}); err != nil {
			return nil, huma.Error500InternalServerError("Failed to encode preview", err)
		}

		return &models.PreviewResponse{
			ContentType:  "image/jpeg",
			CacheControl: "no-store",
			FrameSeq:     strconv.FormatUint(seq, 10),
			Body:         buf.Bytes(),
		}, nil
	})
}
