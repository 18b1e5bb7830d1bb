// Package preflight provides readiness checks for the external tools,
// reference images and filesystem paths radt1cal depends on.
//
// These checks run in two contexts:
//   - The workflow runner calls RunAll before processing a subject. If any
//     check fails the subject is rejected with a configuration error instead
//     of failing hours later inside registration.
//   - The CLI "radt1cal deps" command uses CheckSystemDeps to display tool
//     availability.
//
// Radiomics checks are gated by the features toggle.
package preflight
