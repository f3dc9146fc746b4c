package httputil

// API 錯誤代碼常數.
const (
	// 1000-1999: 憑證相關錯誤 (401 Unauthorized).
	ErrorCodeInvalidToken = 1001

	// 2000-2999: 參數相關錯誤 (400 Bad Request).
	ErrorCodeInvalidParameter = 2001

	// 3000-3999: 核准相關錯誤 (403 Forbidden).
	ErrorCodeApprovalRequired = 3001

	// 4000-4999: 資源相關錯誤 (404 Not Found / 409 Conflict).
	ErrorCodeRecordNotFound = 4001
	ErrorCodeAlreadyExists  = 4002

	// 5000-5999: 處理相關錯誤 (500 Internal Server Error / 504 Gateway Timeout).
	ErrorCodeProcessingFailed = 5001
	ErrorCodeApprovalTimeout  = 5002
)
