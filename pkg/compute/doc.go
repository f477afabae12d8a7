// Package compute is the REST client for the compute service.
//
// Client implements engine.ComputeAPI and engine.ProjectAPI. Requests are
// authenticated with the OAuth2 client credentials flow when a token URL is
// configured. Failures are mapped onto the engine error taxonomy:
//
//   - 404 wraps engine.ErrNotFound
//   - 400 and 422 become configuration errors carrying the problem details
//   - transport failures, 401, 403 and 5xx become connection errors
package compute
