// Package federation resolves modules exposed by remote containers at runtime.
// A host declares remotes by name and entry URL; the first reference to a
// remote fetches its entry manifest once, exposed modules are fetched lazily
// as chunks, and shared dependencies are negotiated against a registry so
// compatible libraries are loaded once per process.
package federation
