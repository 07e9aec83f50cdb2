package service

import (
	"context"
	"errors"
	"net"
)

// ErrNotFound 上游目录没有这部电影，或返回的记录与请求的 ID 不一致
var ErrNotFound = errors.New("电影不存在")

// ErrEmptyEmbedding 嵌入服务返回了空向量
var ErrEmptyEmbedding = errors.New("嵌入服务返回空向量")

// ErrEmbedderUnavailable 嵌入服务未配置或启动探活失败，文本推荐不可用
var ErrEmbedderUnavailable = errors.New("嵌入服务不可用")

// isTimeout 判断是否为网络超时类错误（含上下文超时），这类错误对嵌入请求可重试
func isTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
