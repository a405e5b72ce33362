// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


// Package query answers natural-language questions from indexed documents.
//
// An Orchestrator embeds the question, retrieves the most similar chunks of
// completed documents, drops chunks below the similarity threshold and asks
// the generator for an answer grounded in what remains. When nothing clears
// the threshold the fixed no-relevant answer is returned without calling the
// generator. Every answer carries its sources and per-stage metrics.
package query
