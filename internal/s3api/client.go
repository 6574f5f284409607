// Copyright 2023 Sneller, Inc.
// Copyright 2025 Roman Atachiants
//
//  Licensed under the Apache License, Version 2.0 (the "License");
//  you may not use this file except in compliance with the License.
//  You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
//  Unless required by applicable law or agreed to in writing, software
//  distributed under the License is distributed on an "AS IS" BASIS,
//  WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
//  See the License for the specific language governing permissions and
//  limitations under the License.

// Package s3api builds the default S3 client this module consumes as an
// external collaborator. Authentication, request signing, retries of
// individual HTTP calls, and endpoint resolution are all handled by
// aws-sdk-go-v2 itself — this package's only job is wiring
// config.LoadDefaultConfig into a *s3.Client.
package s3api

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// New builds an *s3.Client from the default AWS credentials/region chain
// (environment, shared config, EC2/ECS metadata, SSO), with optional
// aws-sdk-go-v2 config overrides (region, retry policy, custom HTTP
// client, ...) layered on top.
//
// The returned *s3.Client already satisfies this module's S3Client
// interface; callers do not need an adapter type, only this constructor.
func New(ctx context.Context, optFns ...func(*config.LoadOptions) error) (*s3.Client, error) {
	cfg, err := config.LoadDefaultConfig(ctx, optFns...)
	if err != nil {
		return nil, err
	}
	return s3.NewFromConfig(cfg), nil
}

// FromConfig builds an *s3.Client from an explicitly supplied
// aws-sdk-go-v2 config, for callers who already load their own
// aws.Config (e.g. to point at an S3-compatible endpoint) and don't want
// New's default credential chain.
func FromConfig(cfg aws.Config, optFns ...func(*s3.Options)) *s3.Client {
	return s3.NewFromConfig(cfg, optFns...)
}
