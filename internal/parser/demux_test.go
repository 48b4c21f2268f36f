package parser

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// feedAll 按给定分片序列喂流，收集全部信号和内容
func feedAll(d *Demuxer, chunks ...string) ([]Signal, string) {
	var signals []Signal
	var content strings.Builder
	for _, c := range chunks {
		sigs, text := d.Feed(c)
		signals = append(signals, sigs...)
		content.WriteString(text)
	}
	sigs, text := d.Flush()
	signals = append(signals, sigs...)
	content.WriteString(text)
	return signals, content.String()
}

func TestDemuxerStatusAndContent(t *testing.T) {
	d := NewDemuxer()
	signals, content := feedAll(d,
		"@@STATUS@@:正在分析需求\n",
		`[{"id": 1}`,
		"@@STATUS@@:正在生成用例\n",
		`]`,
	)

	require.Len(t, signals, 2)
	assert.Equal(t, SignalStatus, signals[0].Kind)
	assert.Equal(t, "正在分析需求", signals[0].Text)
	assert.Equal(t, "正在生成用例", signals[1].Text)
	assert.Equal(t, `[{"id": 1}]`, content)
}

func TestDemuxerTagSplitAcrossChunks(t *testing.T) {
	d := NewDemuxer()
	signals, content := feedAll(d, "@@STA", "TUS@@:生成中\n剩余内容")

	require.Len(t, signals, 1)
	assert.Equal(t, SignalStatus, signals[0].Kind)
	assert.Equal(t, "生成中", signals[0].Text)
	assert.Equal(t, "剩余内容", content)
}

func TestDemuxerDiagnosticAndQualityMetric(t *testing.T) {
	d := NewDemuxer()
	signals, content := feedAll(d,
		"GEN_DIAG: {\"tokens\": 128}\n",
		"GEN_QM: {\"coverage\": 0.9}\n",
		"正文",
	)

	require.Len(t, signals, 2)
	assert.Equal(t, SignalDiagnostic, signals[0].Kind)
	assert.JSONEq(t, `{"tokens": 128}`, string(signals[0].Payload))
	assert.Equal(t, SignalQualityMetric, signals[1].Kind)
	assert.JSONEq(t, `{"coverage": 0.9}`, string(signals[1].Payload))
	assert.Equal(t, "正文", content)
}

func TestDemuxerDuplicateMarkerSplit(t *testing.T) {
	d := NewDemuxer()

	sigs, text := d.Feed("@@DUP")
	assert.Empty(t, sigs)
	assert.Empty(t, text)
	assert.False(t, d.DuplicateActive())

	sigs, text = d.Feed(`LICATE@@:{"id"`)
	require.Len(t, sigs, 1)
	assert.Equal(t, SignalDuplicate, sigs[0].Kind)
	assert.Empty(t, text)
	assert.True(t, d.DuplicateActive())

	_, ok := d.DuplicatePayload()
	assert.False(t, ok)

	sigs, text = d.Feed(": 42}")
	assert.Empty(t, sigs)
	assert.Empty(t, text)

	payload, ok := d.DuplicatePayload()
	require.True(t, ok)
	assert.JSONEq(t, `{"id": 42}`, string(payload))
}

func TestDemuxerDuplicateWithoutColon(t *testing.T) {
	d := NewDemuxer()
	d.Feed(`@@DUPLICATE@@{"id": 7}`)
	d.Flush()

	payload, ok := d.DuplicatePayload()
	require.True(t, ok)
	assert.JSONEq(t, `{"id": 7}`, string(payload))
}

func TestDemuxerContentAfterDuplicateIsSwallowed(t *testing.T) {
	d := NewDemuxer()
	d.Feed(`前置内容@@DUPLICATE@@:{"id": 3}`)
	sigs, text := d.Feed(`[{"id": 1}] 这些都不是内容`)
	assert.Empty(t, sigs)
	assert.Empty(t, text)

	payload, ok := d.DuplicatePayload()
	require.True(t, ok)
	assert.JSONEq(t, `{"id": 3}`, string(payload))
}

func TestDemuxerErrorLineAtLineStart(t *testing.T) {
	d := NewDemuxer()
	signals, content := feedAll(d, "一些内容\nError: 模型过载\n后续内容被丢弃")

	require.Len(t, signals, 1)
	assert.Equal(t, SignalErrorLine, signals[0].Kind)
	assert.Equal(t, "模型过载", signals[0].Text)
	assert.Equal(t, "一些内容\n", content)

	// 致命错误之后的分片全部丢弃
	sigs, text := d.Feed("更多内容")
	assert.Empty(t, sigs)
	assert.Empty(t, text)
}

func TestDemuxerErrorInsideJSONStringIsContent(t *testing.T) {
	d := NewDemuxer()
	signals, content := feedAll(d, `[{"expected_result": "Error: none"}]`)

	assert.Empty(t, signals)
	assert.Equal(t, `[{"expected_result": "Error: none"}]`, content)
}

func TestDemuxerErrorAtStreamStart(t *testing.T) {
	d := NewDemuxer()
	signals, content := feedAll(d, "Error: API key invalid\n")

	require.Len(t, signals, 1)
	assert.Equal(t, SignalErrorLine, signals[0].Kind)
	assert.Equal(t, "API key invalid", signals[0].Text)
	assert.Empty(t, content)
}

func TestDemuxerUnterminatedTagAtEOF(t *testing.T) {
	d := NewDemuxer()
	sigs, text := d.Feed("@@STATUS@@:最后一条没有换行")
	assert.Empty(t, sigs)
	assert.Empty(t, text)

	sigs, text = d.Flush()
	require.Len(t, sigs, 1)
	assert.Equal(t, "最后一条没有换行", sigs[0].Text)
	assert.Empty(t, text)
}

// 分片边界不应影响解析结果：对同一条流的每个切分点逐一验证
func TestDemuxerChunkingInvariance(t *testing.T) {
	full := "@@STATUS@@:开始\n[{\"id\": 1},\nGEN_QM: {\"q\": 1}\n{\"id\": 2}]@@STATUS@@:完成\n"

	ref := NewDemuxer()
	wantSignals, wantContent := feedAll(ref, full)

	for i := 1; i < len(full); i++ {
		d := NewDemuxer()
		gotSignals, gotContent := feedAll(d, full[:i], full[i:])
		assert.Equal(t, wantSignals, gotSignals, "切分点 %d 信号不一致", i)
		assert.Equal(t, wantContent, gotContent, "切分点 %d 内容不一致", i)
	}
}

func TestDemuxerDuplicateChunkingInvariance(t *testing.T) {
	full := `部分内容@@DUPLICATE@@:{"id": 42}`

	for i := 1; i < len(full); i++ {
		d := NewDemuxer()
		signals, content := feedAll(d, full[:i], full[i:])

		require.Len(t, signals, 1, "切分点 %d", i)
		assert.Equal(t, SignalDuplicate, signals[0].Kind)
		assert.Equal(t, "部分内容", content, "切分点 %d", i)

		payload, ok := d.DuplicatePayload()
		require.True(t, ok, "切分点 %d 载荷未解析", i)
		assert.JSONEq(t, `{"id": 42}`, string(payload))
	}
}
