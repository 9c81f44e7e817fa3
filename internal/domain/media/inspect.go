package media

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gabriel-vasile/mimetype"
	"github.com/hajimehoshi/go-mp3"

	apperrors "subtitle-server-go/internal/platform/errors"
)

// Info 上传文件的检测结果
type Info struct {
	MIME      string
	Extension string
	Size      int64
	// Duration 仅对能直接解析的格式（WAV、MP3）填充
	Duration time.Duration
}

// HumanSize 返回易读的文件大小
func (i *Info) HumanSize() string {
	return humanize.Bytes(uint64(i.Size))
}

// Inspector 检查暂存后的上传文件
type Inspector struct {
	maxBytes   int64
	extensions map[string]bool
}

// NewInspector 创建检查器；maxBytes 为 0 表示不限大小，extensions 为空表示不限扩展名
func NewInspector(maxBytes int64, extensions []string) *Inspector {
	ins := &Inspector{maxBytes: maxBytes}
	if len(extensions) > 0 {
		ins.extensions = make(map[string]bool, len(extensions))
		for _, ext := range extensions {
			ext = strings.ToLower(strings.TrimSpace(ext))
			if ext != "" && !strings.HasPrefix(ext, ".") {
				ext = "." + ext
			}
			ins.extensions[ext] = true
		}
	}
	return ins
}

// MaxBytes 上传大小上限
func (ins *Inspector) MaxBytes() int64 { return ins.maxBytes }

// Stage copies body to dst, enforcing the size limit.
func (ins *Inspector) Stage(body io.Reader, dst string) (int64, error) {
	const op = "media.stage"

	f, err := os.OpenFile(dst, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return 0, apperrors.Wrap(apperrors.KindResource, op, "failed to create staging file", err)
	}
	defer f.Close()

	src := body
	if ins.maxBytes > 0 {
		src = io.LimitReader(body, ins.maxBytes+1)
	}
	n, err := io.Copy(f, src)
	if err != nil {
		return n, invalid(op, "failed to read upload body", ErrMalformedUpload, err)
	}
	if ins.maxBytes > 0 && n > ins.maxBytes {
		return n, invalid(op, fmt.Sprintf("upload exceeds %s", humanize.Bytes(uint64(ins.maxBytes))), ErrTooLarge, nil)
	}
	if n == 0 {
		return 0, invalid(op, "upload is empty", ErrMalformedUpload, nil)
	}
	return n, f.Sync()
}

// Inspect sniffs the staged file and rejects anything that is not audio or video.
func (ins *Inspector) Inspect(path, declaredName string) (*Info, error) {
	const op = "media.inspect"

	if ins.extensions != nil {
		ext := strings.ToLower(filepath.Ext(declaredName))
		if !ins.extensions[ext] {
			return nil, invalid(op, fmt.Sprintf("file extension %q is not allowed", ext), ErrUnsupportedMedia, nil)
		}
	}

	st, err := os.Stat(path)
	if err != nil {
		return nil, invalid(op, "staged upload missing", ErrMalformedUpload, err)
	}
	if st.Size() == 0 {
		return nil, invalid(op, "upload is empty", ErrMalformedUpload, nil)
	}

	mt, err := mimetype.DetectFile(path)
	if err != nil {
		return nil, invalid(op, "failed to read upload", ErrMalformedUpload, err)
	}
	if !isMedia(mt) {
		return nil, invalid(op, fmt.Sprintf("content type %s is not audio or video", mt.String()), ErrUnsupportedMedia, nil)
	}

	info := &Info{MIME: mt.String(), Extension: mt.Extension(), Size: st.Size()}

	switch {
	case mt.Is("audio/wav"):
		d, err := wavDuration(path)
		if err != nil {
			return nil, invalid(op, "wav header is malformed", ErrMalformedUpload, err)
		}
		info.Duration = d
	case mt.Is("audio/mpeg"):
		d, err := mp3Duration(path)
		if err != nil {
			return nil, invalid(op, "mp3 stream cannot be decoded", ErrMalformedUpload, err)
		}
		info.Duration = d
	}
	return info, nil
}

func isMedia(mt *mimetype.MIME) bool {
	for m := mt; m != nil; m = m.Parent() {
		s := m.String()
		if strings.HasPrefix(s, "audio/") || strings.HasPrefix(s, "video/") || s == "application/ogg" {
			return true
		}
	}
	return false
}

func mp3Duration(path string) (time.Duration, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	dec, err := mp3.NewDecoder(f)
	if err != nil {
		return 0, err
	}
	// 解码输出为 16 位双声道，每个采样 4 字节
	length := dec.Length()
	if length < 0 || dec.SampleRate() == 0 {
		return 0, errors.New("mp3 length unknown")
	}
	samples := length / 4
	return time.Duration(samples) * time.Second / time.Duration(dec.SampleRate()), nil
}

// wavDuration walks the RIFF chunks and derives duration from the data chunk
// size and the fmt chunk byte rate. Chunk sizes are checked against the file
// size before anything is skipped or read.
func wavDuration(path string) (time.Duration, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return 0, err
	}
	fileSize := st.Size()

	var riff [12]byte
	if _, err := io.ReadFull(f, riff[:]); err != nil {
		return 0, err
	}
	if string(riff[0:4]) != "RIFF" || string(riff[8:12]) != "WAVE" {
		return 0, errors.New("not a RIFF/WAVE file")
	}

	offset := int64(len(riff))
	var byteRate uint32
	for {
		var hdr [8]byte
		if _, err := io.ReadFull(f, hdr[:]); err != nil {
			return 0, fmt.Errorf("data chunk not found: %w", err)
		}
		offset += int64(len(hdr))
		id := string(hdr[0:4])
		size := int64(binary.LittleEndian.Uint32(hdr[4:8]))
		remaining := fileSize - offset

		if id == "data" {
			if byteRate == 0 {
				return 0, errors.New("data chunk before fmt chunk")
			}
			// 流式写出的 WAV 常把 data 大小写成 0xFFFFFFFF，以实际剩余字节为准
			if size > remaining {
				size = remaining
			}
			return time.Duration(uint64(size) * uint64(time.Second) / uint64(byteRate)), nil
		}

		if size > remaining {
			return 0, fmt.Errorf("%q chunk size %d exceeds remaining %d bytes", id, size, remaining)
		}
		skip := size + size&1
		if id == "fmt " {
			if size < 16 {
				return 0, errors.New("fmt chunk too short")
			}
			var fmtChunk [16]byte
			if _, err := io.ReadFull(f, fmtChunk[:]); err != nil {
				return 0, err
			}
			byteRate = binary.LittleEndian.Uint32(fmtChunk[8:12])
			skip -= int64(len(fmtChunk))
		}
		if _, err := f.Seek(skip, io.SeekCurrent); err != nil {
			return 0, err
		}
		offset += size + size&1
	}
}
