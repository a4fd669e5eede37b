package httpapi

import (
	"net/http"
	"strings"

	"mathqa/backend/internal/ocr"
)

type ocrStatus struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func (h Handler) OCRRecognize(w http.ResponseWriter, r *http.Request) {
	user, ok := h.currentUser(w, r)
	if !ok {
		return
	}
	if h.ocr == nil {
		writeError(w, http.StatusInternalServerError, "ocr_unavailable", "OCR服务初始化失败: "+h.ocrErr.Error())
		return
	}

	var req ocr.Request
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.ImageBase64) == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "image_base64 is required")
		return
	}

	writeJSON(w, http.StatusOK, h.ocr.Recognize(r.Context(), user.ID, req))
}

// OCRTest reports whether OCR credentials were configured at startup.
func (h Handler) OCRTest(w http.ResponseWriter, _ *http.Request) {
	if err := h.ocr.Check(); err != nil {
		reason := err
		if h.ocrErr != nil {
			reason = h.ocrErr
		}
		writeJSON(w, http.StatusOK, ocrStatus{Success: false, Message: "OCR服务配置异常: " + reason.Error()})
		return
	}
	writeJSON(w, http.StatusOK, ocrStatus{Success: true, Message: "OCR服务配置正常"})
}
