// Package api serves read-only queries over the synced collections
// @title ChainSync API
// @version 1.0
// @description REST API for querying documents synced from chain events and searching indexed markets
// @contact.name API Support
// @contact.url https://github.com/goran-ethernal/ChainSync
// @license.name Apache 2.0
// @license.url https://www.apache.org/licenses/LICENSE-2.0.html
// @host localhost:8080
// @basePath /api/v1
// @schemes http https
package api
