// Package docs registers the OpenAPI document and serves the reference UI.
package docs

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/swaggo/swag"

	"subtitle-server-go/internal/platform/logging"
	httptransport "subtitle-server-go/internal/transport/http"
)

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "contact": {},
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/api/subtitle": {
            "post": {
                "description": "默认返回 SRT 文件；format=json 返回包含分段与词级时间戳的详细结果",
                "consumes": ["multipart/form-data"],
                "produces": ["application/x-subrip", "application/json"],
                "tags": ["Subtitle"],
                "summary": "上传音视频生成 SRT 字幕",
                "parameters": [
                    {"type": "file", "description": "音频或视频文件", "name": "file", "in": "formData", "required": true},
                    {"type": "string", "description": "ISO 语言代码，留空自动检测", "name": "language", "in": "formData"},
                    {"type": "boolean", "description": "是否先进行人声分离", "name": "separate_vocals", "in": "formData"},
                    {"type": "string", "description": "srt 或 json", "name": "format", "in": "formData"}
                ],
                "responses": {
                    "200": {"description": "SRT 字幕", "schema": {"type": "string"}},
                    "400": {"description": "上传内容无效", "schema": {"$ref": "#/definitions/APIResponse"}},
                    "413": {"description": "上传过大", "schema": {"$ref": "#/definitions/APIResponse"}},
                    "422": {"description": "参数缺失或非法", "schema": {"$ref": "#/definitions/APIResponse"}},
                    "500": {"description": "处理失败", "schema": {"$ref": "#/definitions/APIResponse"}},
                    "503": {"description": "容量不足或模型不可用", "schema": {"$ref": "#/definitions/APIResponse"}},
                    "504": {"description": "转录超时", "schema": {"$ref": "#/definitions/APIResponse"}}
                }
            }
        },
        "/whisper/generate_subtitle": {
            "post": {
                "consumes": ["multipart/form-data"],
                "produces": ["application/json"],
                "tags": ["Subtitle"],
                "summary": "生成字幕（兼容接口）",
                "parameters": [
                    {"type": "file", "description": "音频或视频文件", "name": "file", "in": "formData", "required": true},
                    {"type": "boolean", "description": "是否启用人声分离", "name": "enable_vocal_separation", "in": "formData"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "object"}}
                }
            }
        },
        "/whisper/": {
            "get": {
                "produces": ["application/json"],
                "tags": ["System"],
                "summary": "服务状态检查",
                "responses": {"200": {"description": "OK", "schema": {"type": "object"}}}
            }
        },
        "/api/health": {
            "get": {
                "produces": ["application/json"],
                "tags": ["System"],
                "summary": "健康检查",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/APIResponse"}},
                    "503": {"description": "降级", "schema": {"$ref": "#/definitions/APIResponse"}}
                }
            }
        },
        "/api/jobs": {
            "get": {
                "produces": ["application/json"],
                "tags": ["Jobs"],
                "summary": "列出最近的任务",
                "parameters": [
                    {"type": "integer", "description": "返回条数，默认 50", "name": "limit", "in": "query"}
                ],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/APIResponse"}}}
            }
        },
        "/api/jobs/{id}": {
            "get": {
                "produces": ["application/json"],
                "tags": ["Jobs"],
                "summary": "查询任务",
                "parameters": [
                    {"type": "string", "description": "任务 ID", "name": "id", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/APIResponse"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/APIResponse"}}
                }
            }
        }
    },
    "definitions": {
        "APIResponse": {
            "type": "object",
            "properties": {
                "code": {"type": "integer"},
                "data": {},
                "message": {"type": "string"},
                "success": {"type": "boolean"}
            }
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "2.0.0",
	Host:             "",
	BasePath:         "/",
	Schemes:          []string{},
	Title:            "智能字幕生成服务 API",
	Description:      "上传音频或视频生成 SRT 字幕，支持人声分离预处理与词级时间戳",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}

const scalarHTML = `<!DOCTYPE html>
<html lang="zh-CN">
	<head>
		<meta charset="utf-8" />
		<title>字幕服务 API Reference</title>
		<meta name="viewport" content="width=device-width, initial-scale=1" />
	</head>
	<body>
		<script
			id="api-reference"
			data-url="/openapi.json"
			data-layout="modern"
			src="https://cdn.jsdelivr.net/npm/@scalar/api-reference"
		></script>
	</body>
</html>`

// Register 挂载 /openapi.json 与 /docs
func Register(engine *gin.Engine, version string, logger *logging.Logger) {
	if version != "" {
		SwaggerInfo.Version = version
	}
	engine.GET("/openapi.json", func(c *gin.Context) {
		doc, err := swag.ReadDoc()
		if err != nil {
			logger.ErrorTag("HTTP", "生成 OpenAPI 文档失败: %v", err)
			httptransport.RespondError(c, http.StatusInternalServerError, "failed to generate openapi spec", gin.H{"error": err.Error()})
			return
		}
		c.Data(http.StatusOK, "application/json; charset=utf-8", []byte(doc))
	})

	engine.GET("/docs", func(c *gin.Context) {
		c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(scalarHTML))
	})
}
