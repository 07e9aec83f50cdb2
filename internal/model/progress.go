package model

import (
	"sync/atomic"
	"time"
)

// Progress 流水线运行期的共享计数器，多个 worker 并发累加。
// 只存在于进程生命周期内，每次运行前 Reset。
type Progress struct {
	total     atomic.Int64
	success   atomic.Int64
	failed    atomic.Int64
	skipped   atomic.Int64
	startedAt atomic.Int64 // unix 纳秒
}

// ProgressSnapshot 某一时刻的计数快照，供监控输出
type ProgressSnapshot struct {
	Total     int64
	Success   int64
	Failed    int64
	Skipped   int64
	Completed int64
	Elapsed   time.Duration
}

// Reset 开始新一轮运行，清零计数并记录起始时间
func (p *Progress) Reset(total int64) {
	p.total.Store(total)
	p.success.Store(0)
	p.failed.Store(0)
	p.skipped.Store(0)
	p.startedAt.Store(time.Now().UnixNano())
}

// AddSuccess 成功 +1
func (p *Progress) AddSuccess() { p.success.Add(1) }

// AddFailed 失败 +1
func (p *Progress) AddFailed() { p.failed.Add(1) }

// AddSkipped 跳过 +1
func (p *Progress) AddSkipped() { p.skipped.Add(1) }

// AddSkippedN 批量跳过（预过滤阶段一次计入）
func (p *Progress) AddSkippedN(n int64) { p.skipped.Add(n) }

// Snapshot 读取当前计数
func (p *Progress) Snapshot() ProgressSnapshot {
	s := ProgressSnapshot{
		Total:   p.total.Load(),
		Success: p.success.Load(),
		Failed:  p.failed.Load(),
		Skipped: p.skipped.Load(),
	}
	s.Completed = s.Success + s.Failed + s.Skipped
	if start := p.startedAt.Load(); start > 0 {
		s.Elapsed = time.Since(time.Unix(0, start))
	}
	return s
}

// Rate 每秒处理条数（不含预过滤跳过的部分会偏高，仅供监控参考）
func (s ProgressSnapshot) Rate() float64 {
	sec := s.Elapsed.Seconds()
	if sec <= 0 {
		return 0
	}
	return float64(s.Completed) / sec
}

// ETA 按当前速率估算剩余时间，无法估算时返回 0
func (s ProgressSnapshot) ETA() time.Duration {
	rate := s.Rate()
	remaining := s.Total - s.Completed
	if rate <= 0 || remaining <= 0 {
		return 0
	}
	return time.Duration(float64(remaining)/rate) * time.Second
}

// Percent 完成百分比，total 为 0 时返回 100
func (s ProgressSnapshot) Percent() float64 {
	if s.Total == 0 {
		return 100
	}
	return float64(s.Completed) / float64(s.Total) * 100
}
