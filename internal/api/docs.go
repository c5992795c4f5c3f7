// Package api provides the operator REST API for the examchain indexer
// @title ExamChain Indexer API
// @version 1.0
// @description REST API for operating the examchain event indexer and querying its projections
// @contact.name API Support
// @contact.url https://github.com/skillnet-labs/examchain-backend
// @host localhost:8080
// @basePath /api/v1
// @schemes http https
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
package api
