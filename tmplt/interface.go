package tmplt

var HtmlPage = `<!DOCTYPE html>
<html lang="en">
<head>
	<meta charset="UTF-8">
	<meta name="viewport" content="width=device-width, initial-scale=1.0">
	<title>{{.Title}}</title>
	<style>
		body {
			font-family: monospace;
			background: white;
			color: black;
			margin: 40px;
			line-height: 1.6;
		}
		.meter {
			display: flex;
			align-items: flex-end;
			gap: 6px;
			height: 120px;
			margin: 10px 0 30px;
		}
		.bar {
			width: 18px;
			min-height: 2px;
			background: black;
			transition: height 50ms linear;
		}
		#status {
			margin: 20px 0;
			padding: 10px;
			border: 1px solid black;
		}
		#error {
			color: #c00;
		}
	</style>
</head>
<body>
	<h1>{{.Title}}</h1>

	<div id="status">Status: waiting</div>
	<div id="error"></div>

	<h2>Agent</h2>
	<div class="meter" id="agent"></div>

	<h2>Microphone</h2>
	<div class="meter" id="mic"></div>

	<script>
		const status = document.getElementById('status');
		const errorBox = document.getElementById('error');

		function draw(id, bands) {
			const meter = document.getElementById(id);
			while (meter.children.length < bands.length) {
				const bar = document.createElement('div');
				bar.className = 'bar';
				meter.appendChild(bar);
			}
			while (meter.children.length > bands.length) {
				meter.removeChild(meter.lastChild);
			}
			bands.forEach((v, i) => {
				meter.children[i].style.height = Math.round(v * 100) + '%';
			});
		}

		function connectWebSocket() {
			const protocol = window.location.protocol === 'https:' ? 'wss:' : 'ws:';
			const ws = new WebSocket(protocol + '//' + window.location.host + '/ws');

			ws.onmessage = (event) => {
				const msg = JSON.parse(event.data);
				let text = 'Status: ' + msg.state;
				if (msg.loading) {
					text += ' (waiting for agent)';
				}
				if (msg.voice) {
					text += ', voice ' + msg.voice;
				}
				status.textContent = text;
				errorBox.textContent = msg.error || '';
				draw('agent', msg.agent || []);
				draw('mic', msg.mic || []);
			};

			ws.onclose = () => {
				status.textContent = 'Status: viewer disconnected';
				setTimeout(connectWebSocket, 3000);
			};
		}

		connectWebSocket();
	</script>
</body>
</html>
`
