package main

// General API documentation for swaggo. Run `swag init -g cmd/lemond/docs.go -o docs` to regenerate.
//
// @title           lemond API
// @version         1.0
// @description     OpenAI-compatible local inference router with per-category model pools.
//
// @contact.name   lemond maintainers
//
// @license.name   Apache-2.0
// @license.url    https://www.apache.org/licenses/LICENSE-2.0
//
// @BasePath  /
//
// @schemes http
