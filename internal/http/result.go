package httpapi

// Result 统一响应信封
// - code: 2000 成功；其余见下方业务码
// - type: 'success' | 'error' | 'warning'
// - message: string
// - result: any
type Result[T any] struct {
	Code    int    `json:"code"`
	Type    string `json:"type"`
	Message string `json:"message"`
	Result  T      `json:"result"`
}

const (
	ResultSuccess = 2000
	ResultError   = -1
	// ResultTokenExpired 使用 code=60401 + HTTP 401
	ResultTokenExpired = 60401
	// ResultNotFound 报警/通知不存在或不属于当前用户（HTTP 404）
	ResultNotFound = 40400
	// ResultSnapshotFailed 看板快照加载失败，客户端可重试（HTTP 503）
	ResultSnapshotFailed = 50300
)

func Ok[T any](result T) Result[T] {
	return Result[T]{Code: ResultSuccess, Type: "success", Message: "ok", Result: result}
}

func Fail(message string) Result[any] {
	return FailCode(ResultError, message)
}

// FailCode 指定业务码的失败响应
func FailCode(code int, message string) Result[any] {
	return Result[any]{Code: code, Type: "error", Message: message, Result: nil}
}
