package handler

import (
	"context"
	"net/http"

	"ai-nwanne/internal/usecase"
)

type publishResultResponse struct {
	Publisher string `json:"publisher"`
	PostID    string `json:"postId,omitempty"`
	Error     string `json:"error,omitempty"`
}

type entryResponse struct {
	Title   string                  `json:"title,omitempty"`
	Proverb string                  `json:"proverb,omitempty"`
	Skipped string                  `json:"skipped,omitempty"`
	Error   string                  `json:"error,omitempty"`
	Results []publishResultResponse `json:"results,omitempty"`
}

type autoPostResponse struct {
	Generated int             `json:"generated"`
	Published int             `json:"published"`
	Entries   []entryResponse `json:"entries"`
	Error     string          `json:"error,omitempty"`
	Reason    string          `json:"reason,omitempty"`
}

// runAutoPost executes one auto-poster run and renders the report.
func (h *Handler) runAutoPost(ctx context.Context) (int, autoPostResponse) {
	report, err := h.poster.Run(ctx)
	out := toAutoPostResponse(report)
	if err == nil {
		return http.StatusOK, out
	}

	loggerFrom(ctx, h.log).ErrorContext(ctx, "auto post run failed", "err", err)
	ue, ok := usecase.AsError(err)
	if !ok {
		out.Error = string(usecase.ErrorInternal)
		return http.StatusInternalServerError, out
	}
	out.Error, out.Reason = string(ue.Code), ue.Reason
	return statusForCode(ue.Code), out
}

func toAutoPostResponse(r usecase.RunReport) autoPostResponse {
	out := autoPostResponse{
		Generated: r.Generated,
		Published: r.Published,
		Entries:   make([]entryResponse, 0, len(r.Entries)),
	}
	for _, e := range r.Entries {
		er := entryResponse{Title: e.Title, Proverb: e.Proverb, Skipped: string(e.Skip), Error: errString(e.Err)}
		for _, pr := range e.Results {
			er.Results = append(er.Results, publishResultResponse{
				Publisher: pr.Publisher,
				PostID:    pr.PostID,
				Error:     errString(pr.Err),
			})
		}
		out.Entries = append(out.Entries, er)
	}
	return out
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
